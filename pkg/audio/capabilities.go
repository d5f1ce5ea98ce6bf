package audio

var _ Module = Capabilities{}

// Capabilities is a [Module] assembled from a capture factory and a [Codec].
// Voice is enabled when both are present; decoding only needs the Codec.
type Capabilities struct {
	CaptureFactory func() (Capture, error)
	Codec          Codec
}

// VoiceEnabled implements [Module].
func (c Capabilities) VoiceEnabled() bool {
	return c.CaptureFactory != nil && c.Codec != nil
}

// NewCapture implements [Module].
func (c Capabilities) NewCapture() (Capture, error) {
	if c.CaptureFactory == nil {
		return nil, ErrVoiceDisabled
	}
	return c.CaptureFactory()
}

// NewEncoder implements [Module].
func (c Capabilities) NewEncoder() (Encoder, error) {
	if c.Codec == nil {
		return nil, ErrVoiceDisabled
	}
	return c.Codec.NewEncoder()
}

// NewDecoder implements [Module].
func (c Capabilities) NewDecoder() (Decoder, error) {
	if c.Codec == nil {
		return nil, ErrVoiceDisabled
	}
	return c.Codec.NewDecoder()
}
