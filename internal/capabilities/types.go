package capabilities

// Family is one model-family row of the parameter table. Match is a
// substring test against the model identifier; rows are evaluated in file
// order and the first match wins.
type Family struct {
	Match string `yaml:"match"`

	MaxTokens int `yaml:"max_tokens"`

	// ThinkingGated families enable extended thinking only when the
	// request asks for it, with ThinkingBudget tokens.
	ThinkingGated  bool `yaml:"thinking_gated"`
	ThinkingBudget int  `yaml:"thinking_budget"`

	Temperature         float64 `yaml:"temperature"`
	TemperatureThinking float64 `yaml:"temperature_thinking"`
}

// Thinking holds the table row applied to any model when extended
// thinking is requested and no family row claimed it.
type Thinking struct {
	MaxTokens    int     `yaml:"max_tokens"`
	BudgetTokens int     `yaml:"budget_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

// Defaults is the fallback row.
type Defaults struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// table is the YAML document shape.
type table struct {
	Families []Family `yaml:"families"`
	Thinking Thinking `yaml:"thinking"`
	Defaults Defaults `yaml:"defaults"`
}

// ModelParams is the resolved parameter set for one request.
type ModelParams struct {
	MaxTokens      int
	Temperature    float64
	UseThinking    bool
	ThinkingBudget int
}
