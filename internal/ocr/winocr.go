package ocr

import (
	"context"
	"runtime"
	"strings"
)

// Windows.Media.Ocr through WinRT projections in Windows PowerShell.
const winOCRScript = `
Add-Type -AssemblyName System.Runtime.WindowsRuntime
[void][Windows.Storage.StorageFile, Windows.Storage, ContentType=WindowsRuntime]
[void][Windows.Media.Ocr.OcrEngine, Windows.Foundation, ContentType=WindowsRuntime]
[void][Windows.Graphics.Imaging.BitmapDecoder, Windows.Graphics, ContentType=WindowsRuntime]

$asTask = ([System.WindowsRuntimeSystemExtensions].GetMethods() | Where-Object {
    $_.Name -eq 'AsTask' -and $_.GetParameters().Count -eq 1 -and
    $_.GetParameters()[0].ParameterType.Name -eq 'IAsyncOperation` + "`" + `1' })[0]
function Await($op, [type]$type) {
    $task = $asTask.MakeGenericMethod($type).Invoke($null, @($op))
    $task.Wait() | Out-Null
    $task.Result
}

$engine = [Windows.Media.Ocr.OcrEngine]::TryCreateFromUserProfileLanguages()
if ($engine -eq $null) { [Console]::Error.WriteLine('no OCR language installed'); exit 2 }

$file = Await ([Windows.Storage.StorageFile]::GetFileFromPathAsync('{{PATH}}')) ([Windows.Storage.StorageFile])
$stream = Await ($file.OpenAsync([Windows.Storage.FileAccessMode]::Read)) ([Windows.Storage.Streams.IRandomAccessStream])
$decoder = Await ([Windows.Graphics.Imaging.BitmapDecoder]::CreateAsync($stream)) ([Windows.Graphics.Imaging.BitmapDecoder])
$bitmap = Await ($decoder.GetSoftwareBitmapAsync()) ([Windows.Graphics.Imaging.SoftwareBitmap])
$result = Await ($engine.RecognizeAsync($bitmap)) ([Windows.Media.Ocr.OcrResult])
$result.Lines | ForEach-Object { $_.Text }
$stream.Dispose()
`

// WindowsStrategy uses the OCR engine built into Windows 10 and later.
type WindowsStrategy struct {
	probe *probe
}

func NewWindows() *WindowsStrategy {
	return &WindowsStrategy{probe: newProbe(windowsOCRSupported)}
}

func (s *WindowsStrategy) Name() string { return "windows" }

func (s *WindowsStrategy) Available(ctx context.Context) bool { return s.probe.check(ctx) }

func (s *WindowsStrategy) Extract(ctx context.Context, path string) (string, error) {
	script := strings.ReplaceAll(winOCRScript, "{{PATH}}", strings.ReplaceAll(path, "'", "''"))
	return runCommand(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

// windowsOCRSupported checks for Windows 10 or 11; both report a 10.0 kernel.
func windowsOCRSupported(ctx context.Context) bool {
	if runtime.GOOS != "windows" {
		return false
	}
	out, err := runCommand(ctx, "cmd", "/c", "ver")
	if err != nil {
		return false
	}
	return strings.Contains(out, " 10.") || strings.Contains(out, " 11.")
}
