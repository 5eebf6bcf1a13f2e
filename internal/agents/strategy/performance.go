package strategy

// recentTradeLimit caps the per-strategy result history.
const recentTradeLimit = 100

// Performance accumulates trade outcomes for one strategy label.
type Performance struct {
	Trades      int       `json:"trades"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	GrossProfit float64   `json:"gross_profit"`
	GrossLoss   float64   `json:"gross_loss"`
	Recent      []float64 `json:"recent"`
}

// Record folds one realized profit into the stats.
func (p *Performance) Record(profit float64) {
	p.Trades++
	if profit >= 0 {
		p.Wins++
		p.GrossProfit += profit
	} else {
		p.Losses++
		p.GrossLoss += -profit
	}
	p.Recent = append(p.Recent, profit)
	if len(p.Recent) > recentTradeLimit {
		p.Recent = p.Recent[len(p.Recent)-recentTradeLimit:]
	}
}

// WinRate is wins over trades, zero before any trade.
func (p *Performance) WinRate() float64 {
	if p.Trades == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.Trades)
}

// ProfitFactor is gross profit over gross loss. Without losses it reports
// the gross profit itself, which keeps an all-winning strategy comparable.
func (p *Performance) ProfitFactor() float64 {
	if p.GrossLoss == 0 {
		return p.GrossProfit
	}
	return p.GrossProfit / p.GrossLoss
}

// AverageWin is the mean profitable outcome.
func (p *Performance) AverageWin() float64 {
	if p.Wins == 0 {
		return 0
	}
	return p.GrossProfit / float64(p.Wins)
}

// AverageLoss is the mean losing outcome, as a positive number.
func (p *Performance) AverageLoss() float64 {
	if p.Losses == 0 {
		return 0
	}
	return p.GrossLoss / float64(p.Losses)
}
