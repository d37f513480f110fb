package strategy

// Config parameterizes inventory shaping, the quote engine, and the risk
// manager. Mirrors mm_strategy's StrategyConfig: a single flat config
// struct threaded through every stateless calculation rather than
// scattered constants.
type Config struct {
	TargetInventory     float64
	MaxPositionSize     float64
	MaxOrderSize        float64
	InventorySkewFactor float64
	BaseQuoteSize       float64
	RiskAversion        float64

	MinSpreadBps    float64
	VolSpreadFactor float64
	MinConfidence   float64

	DriftHalfLifeSecs      float64
	VolatilityHalfLifeSecs float64
	TradeFlowWindowSecs    float64

	LadderLevels  int
	LadderStepBps float64
}

// DefaultConfig mirrors mm_strategy's StrategyConfig::default: conservative
// sizing, a modest skew factor, and a 3-level ladder.
func DefaultConfig() Config {
	return Config{
		TargetInventory:        0.0,
		MaxPositionSize:        10.0,
		MaxOrderSize:           1.0,
		InventorySkewFactor:    0.0001,
		BaseQuoteSize:          0.1,
		RiskAversion:           1.0,
		MinSpreadBps:           5.0,
		VolSpreadFactor:        2.0,
		MinConfidence:          0.5,
		DriftHalfLifeSecs:      60.0,
		VolatilityHalfLifeSecs: 300.0,
		TradeFlowWindowSecs:    10.0,
		LadderLevels:           3,
		LadderStepBps:          10.0,
	}
}
