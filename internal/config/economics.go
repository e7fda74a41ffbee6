package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Passive income modes.
const (
	PassiveModeStandard  = "STANDARD"
	PassiveModeCyclic130 = "CYCLIC_130"
)

// ScheduleBand is one (start_day, end_day, rate) row of an accrual schedule.
type ScheduleBand struct {
	StartDay int             `validate:"gte=1"`
	EndDay   int             `validate:"gtefield=StartDay"`
	Rate     decimal.Decimal `validate:"gte=0,lt=1"`
}

// Economics holds every admin-configured financial constant.
type Economics struct {
	// FXRate is PKR per one USD.
	FXRate          decimal.Decimal   `validate:"gt=0"`
	SignupFeePKR    decimal.Decimal   `validate:"gte=0"`
	PassiveMode     string            `validate:"oneof=STANDARD CYCLIC_130"`
	PassiveSchedule []ScheduleBand    `validate:"min=1,dive"`
	CyclicSchedule  []ScheduleBand    `validate:"min=1,dive"`
	CycleLength     int               `validate:"gt=0"`
	UserShare       decimal.Decimal   `validate:"gt=0,lte=1"`
	// PoolCollectionRate is taken from every Monday signup payment.
	PoolCollectionRate decimal.Decimal `validate:"gte=0,lt=1"`
	// PoolIncomeShare is the part of a pool distribution credited to income; the rest goes to hold.
	PoolIncomeShare   decimal.Decimal   `validate:"gte=0,lte=1"`
	WithdrawTax       decimal.Decimal   `validate:"gte=0,lt=1"`
	ReferralTiers     []decimal.Decimal `validate:"len=3,dive,gte=0,lt=1"`
	MilestoneTargets  []int             `validate:"min=1,dive,gt=0"`
	MilestonePercents []decimal.Decimal `validate:"min=1,dive,gte=0,lt=1"`
	MaxAccrualDays    int               `validate:"gt=0"`
	Timezone          string            `validate:"required"`

	Location *time.Location `validate:"-"`
}

type rawBand struct {
	StartDay int    `mapstructure:"start_day"`
	EndDay   int    `mapstructure:"end_day"`
	Rate     string `mapstructure:"rate"`
}

// economicsDefaults mirrors the production settings the platform launched with.
func economicsDefaults(v *viper.Viper) {
	v.SetDefault("fx_rate", "280")
	v.SetDefault("signup_fee_pkr", "1410")
	v.SetDefault("passive_mode", PassiveModeStandard)
	v.SetDefault("passive_schedule", []map[string]interface{}{
		{"start_day": 1, "end_day": 10, "rate": "0.004"},
		{"start_day": 11, "end_day": 20, "rate": "0.006"},
		{"start_day": 21, "end_day": 30, "rate": "0.008"},
		{"start_day": 31, "end_day": 60, "rate": "0.010"},
		{"start_day": 61, "end_day": 90, "rate": "0.013"},
	})
	v.SetDefault("cyclic_schedule", []map[string]interface{}{
		{"start_day": 1, "end_day": 5, "rate": "0.010"},
		{"start_day": 6, "end_day": 10, "rate": "0.015"},
		{"start_day": 11, "end_day": 15, "rate": "0.020"},
		{"start_day": 16, "end_day": 20, "rate": "0.025"},
		{"start_day": 21, "end_day": 25, "rate": "0.030"},
		{"start_day": 26, "end_day": 30, "rate": "0.035"},
		{"start_day": 31, "end_day": 130, "rate": "0.040"},
	})
	v.SetDefault("cycle_length", 130)
	v.SetDefault("user_share", "0.80")
	v.SetDefault("pool_collection_rate", "0.005")
	v.SetDefault("pool_income_share", "0.80")
	v.SetDefault("withdraw_tax", "0.10")
	v.SetDefault("referral_tiers", "0.05,0.03,0.02")
	v.SetDefault("milestone_targets", "10,30,100")
	v.SetDefault("milestone_percents", "0.01,0.03,0.05")
	v.SetDefault("max_accrual_days", 90)
	v.SetDefault("timezone", "UTC")
}

// LoadEconomics reads the economics settings from defaults, an optional file and the environment.
func LoadEconomics(path string) (*Economics, error) {
	v := viper.New()
	economicsDefaults(v)
	v.AutomaticEnv()
	// legacy variable names
	_ = v.BindEnv("fx_rate", "FX_RATE", "ADMIN_USD_TO_PKR")
	_ = v.BindEnv("user_share", "USER_SHARE", "USER_WALLET_SHARE")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read economics file %s: %w", path, err)
		}
	}

	return economicsFromViper(v)
}

// DefaultEconomics returns the built-in settings without consulting the environment.
func DefaultEconomics() *Economics {
	v := viper.New()
	economicsDefaults(v)
	e, err := economicsFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("default economics are invalid: %v", err))
	}
	return e
}

func economicsFromViper(v *viper.Viper) (*Economics, error) {
	var errs []string
	dec := func(key string) decimal.Decimal {
		d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return d
	}

	e := &Economics{
		FXRate:             dec("fx_rate"),
		SignupFeePKR:       dec("signup_fee_pkr"),
		PassiveMode:        strings.ToUpper(v.GetString("passive_mode")),
		CycleLength:        v.GetInt("cycle_length"),
		UserShare:          dec("user_share"),
		PoolCollectionRate: dec("pool_collection_rate"),
		PoolIncomeShare:    dec("pool_income_share"),
		WithdrawTax:        dec("withdraw_tax"),
		MaxAccrualDays:     v.GetInt("max_accrual_days"),
		Timezone:           v.GetString("timezone"),
	}

	var err error
	if e.PassiveSchedule, err = bands(v, "passive_schedule"); err != nil {
		errs = append(errs, err.Error())
	}
	if e.CyclicSchedule, err = bands(v, "cyclic_schedule"); err != nil {
		errs = append(errs, err.Error())
	}
	if e.ReferralTiers, err = decimalList(v, "referral_tiers"); err != nil {
		errs = append(errs, err.Error())
	}
	if e.MilestonePercents, err = decimalList(v, "milestone_percents"); err != nil {
		errs = append(errs, err.Error())
	}
	if e.MilestoneTargets, err = intList(v, "milestone_targets"); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid economics: %s", strings.Join(errs, "; "))
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

var economicsValidator = newEconomicsValidator()

func newEconomicsValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return validate
}

// Validate checks field ranges and resolves the business timezone.
func (e *Economics) Validate() error {
	if err := economicsValidator.Struct(e); err != nil {
		return fmt.Errorf("invalid economics: %w", err)
	}
	if len(e.MilestoneTargets) != len(e.MilestonePercents) {
		return fmt.Errorf("invalid economics: %d milestone targets but %d percents",
			len(e.MilestoneTargets), len(e.MilestonePercents))
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return fmt.Errorf("invalid economics: timezone %q: %w", e.Timezone, err)
	}
	e.Location = loc
	return nil
}

func bands(v *viper.Viper, key string) ([]ScheduleBand, error) {
	var raw []rawBand
	if err := v.UnmarshalKey(key, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	out := make([]ScheduleBand, 0, len(raw))
	for _, r := range raw {
		rate, err := decimal.NewFromString(strings.TrimSpace(r.Rate))
		if err != nil {
			return nil, fmt.Errorf("%s: rate %q: %w", key, r.Rate, err)
		}
		out = append(out, ScheduleBand{StartDay: r.StartDay, EndDay: r.EndDay, Rate: rate})
	}
	return out, nil
}

// listItems accepts either a comma separated string (env) or a sequence (file).
func listItems(v *viper.Viper, key string) []string {
	var items []string
	switch val := v.Get(key).(type) {
	case string:
		items = strings.Split(val, ",")
	case []interface{}:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	case []string:
		items = val
	}
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func decimalList(v *viper.Viper, key string) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	for _, item := range listItems(v, key) {
		d, err := decimal.NewFromString(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %q: %w", key, item, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func intList(v *viper.Viper, key string) ([]int, error) {
	var out []int
	for _, item := range listItems(v, key) {
		var n int
		if _, err := fmt.Sscanf(item, "%d", &n); err != nil {
			return nil, fmt.Errorf("%s: %q: %w", key, item, err)
		}
		out = append(out, n)
	}
	return out, nil
}
