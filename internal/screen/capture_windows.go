//go:build windows

package screen

import (
	"context"
	"strings"
)

// System.Drawing grab of the whole virtual desktop.
const windowsCaptureScript = `
Add-Type -AssemblyName System.Windows.Forms, System.Drawing
$b = [System.Windows.Forms.SystemInformation]::VirtualScreen
$bmp = New-Object System.Drawing.Bitmap $b.Width, $b.Height
$g = [System.Drawing.Graphics]::FromImage($bmp)
$g.CopyFromScreen($b.Left, $b.Top, 0, 0, $bmp.Size)
$bmp.Save('{{PATH}}', [System.Drawing.Imaging.ImageFormat]::Png)
$g.Dispose(); $bmp.Dispose()
`

type windowsBackend struct{}

func (windowsBackend) name() string { return "powershell" }
func (windowsBackend) ext() string  { return ".png" }

func (windowsBackend) captureTo(ctx context.Context, path string) error {
	script := strings.ReplaceAll(windowsCaptureScript, "{{PATH}}", strings.ReplaceAll(path, "'", "''"))
	return runTool(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

// New creates the platform screen capturer.
func New() (Capturer, error) {
	return newFileCapturer(windowsBackend{})
}
