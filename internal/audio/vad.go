package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end speech
	FrameSize       int     // Samples per frame (20ms: SampleRate / 50)
}

// DefaultVADConfig returns a default VAD configuration for 16kHz audio
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   15,  // 300ms of silence
		FrameSize:       320, // 20ms at 16kHz
	}
}

// FrameSizeFor returns the samples in a 20ms frame at sampleRate.
func FrameSizeFor(sampleRate int) int {
	if sampleRate < 50 {
		return 1
	}
	return sampleRate / 50
}

// VADResult is the outcome of one processed frame.
type VADResult struct {
	Speech        bool // frame energy is above the threshold
	Speaking      bool // inside a speech run, including its silent tail
	SpeechStarted bool
	SpeechEnded   bool
}

// VADDetector performs energy-based Voice Activity Detection on PCM16 frames
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// FrameBytes is the byte length of one frame.
func (v *VADDetector) FrameBytes() int {
	return v.config.FrameSize * bytesPerSample
}

// ProcessFrame classifies one PCM16 frame.
func (v *VADDetector) ProcessFrame(frame []byte) VADResult {
	res := VADResult{Speech: FrameRMS(frame) > v.config.EnergyThreshold}

	if res.Speech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			res.SpeechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			res.SpeechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	res.Speaking = v.isSpeaking
	return res
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}
