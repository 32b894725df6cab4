package ocr

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// Vision recognition languages shared by the Python and Objective-C helpers.
const visionLanguages = `"en-US", "zh-Hans", "zh-Hant"`

const pyobjcScript = `import sys
import objc
from Vision import VNImageRequestHandler, VNRecognizeTextRequest
from Quartz import CGImageSourceCreateWithURL, CGImageSourceCreateImageAtIndex
from CoreFoundation import CFURLCreateFromFileSystemRepresentation

path = sys.argv[1].encode("utf-8")
url = CFURLCreateFromFileSystemRepresentation(None, path, len(path), False)
source = CGImageSourceCreateWithURL(url, None)
if source is None:
    sys.exit("cannot open image")
image = CGImageSourceCreateImageAtIndex(source, 0, None)

request = VNRecognizeTextRequest.alloc().init()
request.setRecognitionLevel_(1)
request.setUsesLanguageCorrection_(True)
request.setRecognitionLanguages_([` + visionLanguages + `])

handler = VNImageRequestHandler.alloc().initWithCGImage_options_(image, {})
ok, err = handler.performRequests_error_([request], None)
if not ok:
    sys.exit(str(err))

for result in request.results() or []:
    candidates = result.topCandidates_(1)
    if candidates:
        print(candidates[0].string())
`

const objcSource = `#import <Foundation/Foundation.h>
#import <Vision/Vision.h>
#import <AppKit/AppKit.h>

int main(int argc, const char *argv[]) {
    @autoreleasepool {
        if (argc < 2) return 2;
        NSURL *url = [NSURL fileURLWithPath:[NSString stringWithUTF8String:argv[1]]];
        NSImage *image = [[NSImage alloc] initWithContentsOfURL:url];
        if (!image) return 1;
        CGImageRef cg = [image CGImageForProposedRect:nil context:nil hints:nil];
        if (!cg) return 1;

        VNRecognizeTextRequest *request = [[VNRecognizeTextRequest alloc] init];
        request.recognitionLevel = VNRequestTextRecognitionLevelAccurate;
        request.usesLanguageCorrection = YES;
        request.recognitionLanguages = @[@"en-US", @"zh-Hans", @"zh-Hant"];

        VNImageRequestHandler *handler = [[VNImageRequestHandler alloc] initWithCGImage:cg options:@{}];
        NSError *error = nil;
        if (![handler performRequests:@[request] error:&error]) return 1;

        for (VNRecognizedTextObservation *obs in request.results) {
            VNRecognizedText *top = [obs topCandidates:1].firstObject;
            if (top) printf("%s\n", top.string.UTF8String);
        }
    }
    return 0;
}
`

// PyObjCStrategy drives the Vision framework through a Python helper script.
type PyObjCStrategy struct {
	dir   string
	mu    sync.Mutex
	path  string
	probe *probe
}

func NewPyObjC(dir string) *PyObjCStrategy {
	return &PyObjCStrategy{
		dir: dir,
		probe: newProbe(func(ctx context.Context) bool {
			return exec.CommandContext(ctx, "python3", "-c", "import objc; import Vision").Run() == nil
		}),
	}
}

func (s *PyObjCStrategy) Name() string { return "pyobjc" }

func (s *PyObjCStrategy) Available(ctx context.Context) bool { return s.probe.check(ctx) }

func (s *PyObjCStrategy) Extract(ctx context.Context, path string) (string, error) {
	script, err := s.script()
	if err != nil {
		return "", err
	}
	return runCommand(ctx, "python3", script, path)
}

// script writes the helper on first successful use. Write failures are not
// remembered.
func (s *PyObjCStrategy) script() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		return s.path, nil
	}
	path, err := writeHelper(s.dir, "vision_ocr.py", pyobjcScript)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.OCRStrategyUnavailable, "write vision script")
	}
	s.path = path
	return path, nil
}

// ObjCStrategy compiles a small Vision helper with clang on first use and
// reuses the binary for the rest of the process.
type ObjCStrategy struct {
	dir string
	mu  sync.Mutex
	bin string
}

func NewObjC(dir string) *ObjCStrategy {
	return &ObjCStrategy{dir: dir}
}

func (s *ObjCStrategy) Name() string { return "objc" }

func (s *ObjCStrategy) Available(context.Context) bool {
	_, err := exec.LookPath("clang")
	return err == nil
}

func (s *ObjCStrategy) Extract(ctx context.Context, path string) (string, error) {
	bin, err := s.compile(ctx)
	if err != nil {
		return "", err
	}
	return runCommand(ctx, bin, path)
}

// compile is retried on the next call if it fails, unlike the binary which is
// kept once built.
func (s *ObjCStrategy) compile(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bin != "" {
		return s.bin, nil
	}

	src, err := writeHelper(s.dir, "vision_ocr.m", objcSource)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.OCRStrategyUnavailable, "write vision helper source")
	}
	bin := filepath.Join(s.dir, "vision_ocr")
	if _, err := runCommand(ctx, "clang",
		"-framework", "Foundation", "-framework", "Vision", "-framework", "AppKit",
		src, "-o", bin); err != nil {
		return "", apperrors.Wrap(err, apperrors.OCRStrategyUnavailable, "compile vision helper")
	}
	s.bin = bin
	return bin, nil
}

// writeHelper writes a generated helper file into dir, creating dir first.
func writeHelper(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// macOSVisionSupported reports whether sw_vers shows 10.15 or later, the first
// release with VNRecognizeTextRequest.
func macOSVisionSupported(ctx context.Context) bool {
	out, err := runCommand(ctx, "sw_vers", "-productVersion")
	if err != nil {
		return false
	}
	return versionAtLeast(strings.TrimSpace(out), 10, 15)
}

func versionAtLeast(v string, major, minor int) bool {
	parts := strings.Split(v, ".")
	maj, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	if maj != major {
		return maj > major
	}
	if len(parts) < 2 {
		return minor == 0
	}
	mnr, err := strconv.Atoi(parts[1])
	return err == nil && mnr >= minor
}
