package telemetry

// Adapter describes what the charge state manager wants from the AC adapter.
type Adapter struct {
	// DesiredInputCurrentMA is the total input current the system may draw.
	DesiredInputCurrentMA int `json:"desiredInputCurrent"`
	InputVoltageMV        int `json:"inputVoltage"`
	// PPSPowerBudgetMW is held back for a PD partner and never allocated.
	PPSPowerBudgetMW int `json:"ppsPowerBudget"`
}

// TotalPowerMW is the adapter power available this tick. It is 0 without AC,
// including while an adapter is still being detected.
func (a Adapter) TotalPowerMW() int {
	if a.DesiredInputCurrentMA <= 0 || a.InputVoltageMV <= 0 {
		return 0
	}
	return a.DesiredInputCurrentMA * a.InputVoltageMV / 1000
}

// BudgetMW is the power left to allocate once the PPS reservation is taken off.
func (a Adapter) BudgetMW() int {
	budget := a.TotalPowerMW() - a.PPSPowerBudgetMW
	if budget < 0 {
		return 0
	}
	return budget
}
