package provider

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ImagePart is an image attachment on a Message: either a public URL or
// a base64 data URL, already encoded and sized for inline transport.
// Adapters convert it to their wire's native image block.
type ImagePart struct {
	URL      string // "data:<mime>;base64,..." or http(s) URL
	MimeType string
}

// maxInlineImageBytes is the size above which a file-based image is
// downscaled with a platform-native tool before encoding. When no tool
// is available the image is sent unmodified.
const maxInlineImageBytes = 4_500_000

// resizeMaxDim is the bounding box the platform resize tools target.
const resizeMaxDim = 2000

// EncodeImageFile reads a disk image, sniffs its mime type when the
// hint is empty, downscales it when it exceeds the inline limit, and
// returns a base64 data-URL part.
func EncodeImageFile(path, mimeHint string) (ImagePart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImagePart{}, fmt.Errorf("read image %s: %w", path, err)
	}

	if len(data) > maxInlineImageBytes {
		if resized, err := resizeImageFile(path); err == nil && len(resized) > 0 && len(resized) < len(data) {
			data = resized
		}
	}

	mime := mimeHint
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return ImagePart{}, fmt.Errorf("%s is not an image (%s)", path, mime)
	}

	return ImagePart{
		URL:      "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		MimeType: mime,
	}, nil
}

// resizeImageFile shrinks the image at path into a temp file using
// whatever platform tool exists (sips on macOS, ImageMagick convert on
// Linux, System.Drawing via PowerShell on Windows) and returns the
// resized bytes. Errors mean "send the original unmodified".
func resizeImageFile(path string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "symb-img-*"+filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("sips", "-Z", fmt.Sprint(resizeMaxDim), path, "--out", tmpPath)
	case "windows":
		script := fmt.Sprintf(`Add-Type -AssemblyName System.Drawing; $i=[System.Drawing.Image]::FromFile(%q); $s=[Math]::Min(1, %d / [Math]::Max($i.Width, $i.Height)); $b=New-Object System.Drawing.Bitmap($i, [int]($i.Width*$s), [int]($i.Height*$s)); $b.Save(%q); $b.Dispose(); $i.Dispose()`, path, resizeMaxDim, tmpPath)
		cmd = exec.Command("powershell", "-NoProfile", "-Command", script)
	default:
		convert, err := exec.LookPath("convert")
		if err != nil {
			return nil, fmt.Errorf("no image resize tool available")
		}
		cmd = exec.Command(convert, path, "-resize", fmt.Sprintf("%dx%d>", resizeMaxDim, resizeMaxDim), tmpPath)
	}
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return os.ReadFile(tmpPath)
}

// dataURLParts splits a data URL into its mime type and raw base64
// payload, for adapters whose wire format wants them separate
// (Anthropic's base64 image source). ok is false for non-data URLs.
func dataURLParts(url string) (mime, b64 string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", "", false
	}
	return rest[:sep], rest[sep+len(";base64,"):], true
}
