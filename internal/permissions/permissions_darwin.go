//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

int checkMediaPermission(int video) {
    AVMediaType media = video ? AVMediaTypeVideo : AVMediaTypeAudio;
    return (int)[AVCaptureDevice authorizationStatusForMediaType:media];
}

void requestMediaPermission(int video) {
    AVMediaType media = video ? AVMediaTypeVideo : AVMediaTypeAudio;
    [AVCaptureDevice requestAccessForMediaType:media completionHandler:^(BOOL granted) {}];
}
*/
import "C"

import (
	"errors"
	"fmt"
)

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() (Status, error) {
	return Status(C.checkMediaPermission(0)), nil
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() error {
	C.requestMediaPermission(0)
	return nil
}

// CheckCamera returns the current camera permission status
func CheckCamera() (Status, error) {
	return Status(C.checkMediaPermission(1)), nil
}

// RequestCamera triggers the system camera permission dialog
func RequestCamera() error {
	C.requestMediaPermission(1)
	return nil
}

// EnsurePermissions requests whatever is not yet decided and reports every
// permission that is not granted. Capture still works in placeholder mode
// without them, so callers usually log the error and continue.
func EnsurePermissions() error {
	var errs []error

	if st, _ := CheckCamera(); st != Authorized {
		if st == NotDetermined {
			_ = RequestCamera()
		}
		errs = append(errs, fmt.Errorf("camera permission %s", st))
	}
	if st, _ := CheckMicrophone(); st != Authorized {
		if st == NotDetermined {
			_ = RequestMicrophone()
		}
		errs = append(errs, fmt.Errorf("microphone permission %s", st))
	}
	return errors.Join(errs...)
}
