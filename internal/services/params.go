package services

// LLMParameters are the optional sampling parameters applied to every chat request. Nil fields
// are left to the backend's defaults.
type LLMParameters struct {
	Temperature      *float32       `yaml:"temperature"`
	TopP             *float32       `yaml:"topP"`
	TopK             *int           `yaml:"topK"`
	Stop             []string       `yaml:"stop"`
	PresencePenalty  *float32       `yaml:"presencePenalty"`
	FrequencyPenalty *float32       `yaml:"frequencyPenalty"`
	Seed             *int           `yaml:"seed"`
	MaxTokens        *int           `yaml:"maxTokens"`
	LogitBias        map[string]int `yaml:"logitBias"`
}

// ollamaOptions maps p onto the option names of the Ollama API.
func (p LLMParameters) ollamaOptions() map[string]any {
	opts := make(map[string]any)
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	if p.TopK != nil {
		opts["top_k"] = *p.TopK
	}
	if len(p.Stop) > 0 {
		opts["stop"] = p.Stop
	}
	if p.PresencePenalty != nil {
		opts["presence_penalty"] = *p.PresencePenalty
	}
	if p.FrequencyPenalty != nil {
		opts["frequency_penalty"] = *p.FrequencyPenalty
	}
	if p.Seed != nil {
		opts["seed"] = *p.Seed
	}
	if p.MaxTokens != nil {
		opts["num_predict"] = *p.MaxTokens
	}
	return opts
}
