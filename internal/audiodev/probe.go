package audiodev

import "context"

// PermissionState is the microphone permission/capability state reported
// before any device is acquired.
type PermissionState string

const (
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionPrompt      PermissionState = "prompt"
	PermissionUnsupported PermissionState = "unsupported"
)

// Prober checks whether the runtime supports audio capture and what the
// current permission state is, without holding the device afterwards.
type Prober interface {
	Probe(ctx context.Context) (PermissionState, error)
}
