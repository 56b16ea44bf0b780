package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PlanTrial     = "trial"
	PlanMonthly   = "monthly"
	PlanQuarterly = "quarterly"
	PlanYearly    = "yearly"
)

// Unlimited marks a resource limit that never rejects usage.
const Unlimited Limit = -1

// Limit is the maximum count of a resource per subscription period.
type Limit int64

func (l Limit) IsUnlimited() bool {
	return l < 0
}

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(int64(l), 10)
}

// Plan describes a purchasable plan. Price is in minor currency units.
type Plan struct {
	Code         string           `mapstructure:"code"`
	Name         string           `mapstructure:"name"`
	Price        int64            `mapstructure:"price"`
	DurationDays int              `mapstructure:"durationDays"`
	Limits       map[string]Limit `mapstructure:"limits"`
	Features     []string         `mapstructure:"features"`
}

// LimitFor returns the plan limit for resource. Resources the plan does not
// list have a limit of zero.
func (p Plan) LimitFor(resource string) Limit {
	limit, ok := p.Limits[normalizeResource(resource)]
	if !ok {
		return 0
	}
	return limit
}

func (p Plan) HasFeature(feature string) bool {
	feature = slug.Make(feature)
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

type PricingConfig struct {
	Currency string          `mapstructure:"currency"`
	Plans    map[string]Plan `mapstructure:"plans"`
}

func (c PricingConfig) Plan(code string) (Plan, bool) {
	plan, ok := c.Plans[slug.Make(code)]
	return plan, ok
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Currency: "INR",
		Plans: map[string]Plan{
			PlanTrial: {
				Code:         PlanTrial,
				Name:         "Trial",
				Price:        0,
				DurationDays: 14,
				Limits: map[string]Limit{
					"invoices":  25,
					"customers": 25,
					"employees": 5,
					"products":  50,
				},
				Features: []string{"invoicing", "inventory"},
			},
			PlanMonthly: {
				Code:         PlanMonthly,
				Name:         "Monthly",
				Price:        49_900,
				DurationDays: 30,
				Limits: map[string]Limit{
					"invoices":  500,
					"customers": 1_000,
					"employees": 25,
					"products":  Unlimited,
				},
				Features: []string{"invoicing", "inventory", "recurring-invoices", "payroll"},
			},
			PlanQuarterly: {
				Code:         PlanQuarterly,
				Name:         "Quarterly",
				Price:        129_900,
				DurationDays: 90,
				Limits: map[string]Limit{
					"invoices":  2_000,
					"customers": 5_000,
					"employees": 50,
					"products":  Unlimited,
				},
				Features: []string{"invoicing", "inventory", "recurring-invoices", "payroll"},
			},
			PlanYearly: {
				Code:         PlanYearly,
				Name:         "Yearly",
				Price:        499_900,
				DurationDays: 365,
				Limits: map[string]Limit{
					"invoices":  Unlimited,
					"customers": Unlimited,
					"employees": 200,
					"products":  Unlimited,
				},
				Features: []string{"invoicing", "inventory", "recurring-invoices", "payroll", "priority-support"},
			},
		},
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingConfigHolder wraps a fixed pricing config without file watching.
func NewStaticPricingConfigHolder(cfg PricingConfig) (*PricingConfigHolder, error) {
	cfg = normalizePricingConfig(cfg)
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewPricingConfigHolder(appCfg Config, log *zap.Logger) (*PricingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pricing-config")

	v := viper.New()
	if appCfg.PricingConfigPath != "" {
		v.SetConfigFile(appCfg.PricingConfigPath)
	} else {
		v.SetConfigName("pricing")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/bizcore/config")
		v.AddConfigPath("/etc/bizcore")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("BIZCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("pricing config file not found, using defaults")
		return NewStaticPricingConfigHolder(DefaultPricingConfig())
	}

	cfg, err := decodePricingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePricingConfig(v)
		if err != nil {
			log.Warn("invalid pricing config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func (h *PricingConfigHolder) Plan(code string) (Plan, bool) {
	return h.Get().Plan(code)
}

func decodePricingConfig(v *viper.Viper) (PricingConfig, error) {
	var cfg PricingConfig
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		limitDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.UnmarshalKey("pricing", &cfg, hook); err != nil {
		return PricingConfig{}, fmt.Errorf("decode pricing config: %w", err)
	}
	cfg = normalizePricingConfig(cfg)
	if err := validatePricingConfig(cfg); err != nil {
		return PricingConfig{}, err
	}
	return cfg, nil
}

// limitDecodeHook accepts "unlimited" (or -1) wherever a Limit is expected.
func limitDecodeHook() mapstructure.DecodeHookFuncType {
	limitType := reflect.TypeOf(Limit(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != limitType || from.Kind() != reflect.String {
			return data, nil
		}
		raw := strings.ToLower(strings.TrimSpace(data.(string)))
		if raw == "unlimited" || raw == "" {
			return Unlimited, nil
		}
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid limit %q", raw)
		}
		return Limit(parsed), nil
	}
}

func normalizePricingConfig(cfg PricingConfig) PricingConfig {
	plans := make(map[string]Plan, len(cfg.Plans))
	for key, plan := range cfg.Plans {
		code := plan.Code
		if strings.TrimSpace(code) == "" {
			code = key
		}
		plan.Code = slug.Make(code)

		limits := make(map[string]Limit, len(plan.Limits))
		for resource, limit := range plan.Limits {
			limits[normalizeResource(resource)] = limit
		}
		plan.Limits = limits

		features := make([]string, 0, len(plan.Features))
		for _, f := range plan.Features {
			if f = slug.Make(f); f != "" {
				features = append(features, f)
			}
		}
		plan.Features = features
		plans[plan.Code] = plan
	}
	cfg.Plans = plans
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	return cfg
}

func validatePricingConfig(cfg PricingConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("pricing.plans cannot be empty")
	}
	if _, ok := cfg.Plans[PlanTrial]; !ok {
		return errors.New("pricing.plans must define a trial plan")
	}
	for code, plan := range cfg.Plans {
		if code == "" {
			return errors.New("pricing.plans contains a plan without code")
		}
		if plan.DurationDays <= 0 {
			return fmt.Errorf("pricing.plans.%s.durationDays must be positive", code)
		}
		if plan.Price < 0 {
			return fmt.Errorf("pricing.plans.%s.price cannot be negative", code)
		}
		for resource, limit := range plan.Limits {
			if limit < Unlimited {
				return fmt.Errorf("pricing.plans.%s.limits.%s is invalid", code, resource)
			}
		}
	}
	return nil
}

func normalizeResource(resource string) string {
	return strings.ToLower(strings.TrimSpace(resource))
}
