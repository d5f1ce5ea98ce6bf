package audio

// CaptureStatus classifies the result of a [Capture] poll or read.
type CaptureStatus int

const (
	// CaptureNotCapturing means the capture has not been started or was
	// stopped.
	CaptureNotCapturing CaptureStatus = iota

	// CaptureOK means audio is flowing.
	CaptureOK

	// CaptureNoData means the capture is running but has nothing buffered.
	CaptureNoData

	// CaptureStopping means the capture is winding down.
	CaptureStopping

	// CaptureError means the underlying device failed.
	CaptureError
)

// String returns the human-readable name of the status.
func (s CaptureStatus) String() string {
	switch s {
	case CaptureNotCapturing:
		return "NOT_CAPTURING"
	case CaptureOK:
		return "OK"
	case CaptureNoData:
		return "NO_DATA"
	case CaptureStopping:
		return "STOPPING"
	case CaptureError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SampleFormat describes how PCM bytes submitted to a [Sink] are laid out.
type SampleFormat int

const (
	// FormatInt16 is little-endian signed 16-bit PCM.
	FormatInt16 SampleFormat = iota

	// FormatFloat32 is little-endian IEEE-754 32-bit PCM.
	FormatFloat32
)

// BytesPerSample returns the size of one sample of f.
func (f SampleFormat) BytesPerSample() int {
	if f == FormatFloat32 {
		return 4
	}
	return 2
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the size of one second of 16-bit PCM in f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}
