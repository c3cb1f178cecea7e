package tts

// VoiceProfile selects the voice used for the interviewer.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (ElevenLabs voice ID,
	// OpenAI voice name, Coqui speaker ID). Piper ignores it.
	ID string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 0 or 1.0 = default).
	SpeedFactor float64
}
