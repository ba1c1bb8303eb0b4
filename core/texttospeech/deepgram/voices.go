package deepgram

type deepgramVoice string

// Aura voices suited to a support line.
const (
	VoiceAsteria   deepgramVoice = "aura-2-asteria-en"
	VoiceThalia    deepgramVoice = "aura-2-thalia-en"
	VoiceOrion     deepgramVoice = "aura-2-orion-en"
	VoiceAndromeda deepgramVoice = "aura-2-andromeda-en"
	VoiceApollo    deepgramVoice = "aura-2-apollo-en"

	defaultVoice = VoiceThalia
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{VoiceAsteria, VoiceThalia, VoiceOrion, VoiceAndromeda, VoiceApollo}
}

// ParseVoice returns the named voice, or false if it is not available.
func ParseVoice(name string) (deepgramVoice, bool) {
	for _, voice := range GetAvailableVoices() {
		if string(voice) == name {
			return voice, true
		}
	}
	return "", false
}
