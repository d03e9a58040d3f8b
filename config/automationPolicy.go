package config

// AutomationPolicy carries every tunable threshold used by progress, health and the
// automation rules. Nothing in the workflow package hard-codes these numbers.
//
// Set via env (defaults in brackets):
// - AUTOMATION_INACTIVITY_DAYS [7]
// - AUTOMATION_DROPOUT_INACTIVITY_DAYS [21]
// - AUTOMATION_TESTS_TARGET [5]
// - AUTOMATION_DOCUMENTS_TARGET [5]
// - AUTOMATION_HOURS_TARGET [24]
// - AUTOMATION_DEFAULT_WINDOW_DAYS [90]
// - AUTOMATION_GREEN_MAX_LAG [15]
// - AUTOMATION_ORANGE_MAX_LAG [30]
// - AUTOMATION_TEST_REMINDER_RATIO [0.5]
// - AUTOMATION_DELAY_ALERT_DAYS [14]
// - AUTOMATION_PHASE_NEARLY_DONE [80]
// - AUTOMATION_FOLLOW_UP_MONTHS [6]
type AutomationPolicy struct {
	InactivityDays        int
	DropoutInactivityDays int
	TestsTarget           int
	DocumentsTarget       int
	HoursTarget           int
	DefaultWindowDays     int
	GreenMaxLag           float64
	OrangeMaxLag          float64
	TestReminderRatio     float64
	DelayAlertDays        int
	PhaseNearlyDone       int
	FollowUpMonths        int
}

func DefaultAutomationPolicy() AutomationPolicy {
	return AutomationPolicy{
		InactivityDays:        7,
		DropoutInactivityDays: 21,
		TestsTarget:           5,
		DocumentsTarget:       5,
		HoursTarget:           24,
		DefaultWindowDays:     90,
		GreenMaxLag:           15,
		OrangeMaxLag:          30,
		TestReminderRatio:     0.5,
		DelayAlertDays:        14,
		PhaseNearlyDone:       80,
		FollowUpMonths:        6,
	}
}

// LoadAutomationPolicy reads overrides from env. Non-positive values keep the default.
func LoadAutomationPolicy() AutomationPolicy {
	p := DefaultAutomationPolicy()
	p.InactivityDays = positiveInt("AUTOMATION_INACTIVITY_DAYS", p.InactivityDays)
	p.DropoutInactivityDays = positiveInt("AUTOMATION_DROPOUT_INACTIVITY_DAYS", p.DropoutInactivityDays)
	p.TestsTarget = positiveInt("AUTOMATION_TESTS_TARGET", p.TestsTarget)
	p.DocumentsTarget = positiveInt("AUTOMATION_DOCUMENTS_TARGET", p.DocumentsTarget)
	p.HoursTarget = positiveInt("AUTOMATION_HOURS_TARGET", p.HoursTarget)
	p.DefaultWindowDays = positiveInt("AUTOMATION_DEFAULT_WINDOW_DAYS", p.DefaultWindowDays)
	p.GreenMaxLag = positiveFloat("AUTOMATION_GREEN_MAX_LAG", p.GreenMaxLag)
	p.OrangeMaxLag = positiveFloat("AUTOMATION_ORANGE_MAX_LAG", p.OrangeMaxLag)
	p.TestReminderRatio = positiveFloat("AUTOMATION_TEST_REMINDER_RATIO", p.TestReminderRatio)
	p.DelayAlertDays = positiveInt("AUTOMATION_DELAY_ALERT_DAYS", p.DelayAlertDays)
	p.PhaseNearlyDone = positiveInt("AUTOMATION_PHASE_NEARLY_DONE", p.PhaseNearlyDone)
	p.FollowUpMonths = positiveInt("AUTOMATION_FOLLOW_UP_MONTHS", p.FollowUpMonths)
	if p.OrangeMaxLag < p.GreenMaxLag {
		p.OrangeMaxLag = p.GreenMaxLag
	}
	return p
}

func positiveInt(key string, def int) int {
	if n := intFromEnv(key, def); n > 0 {
		return n
	}
	return def
}

func positiveFloat(key string, def float64) float64 {
	if f := floatFromEnv(key, def); f > 0 {
		return f
	}
	return def
}
