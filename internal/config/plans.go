package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanCatalog maps plan identifiers to display names.
type PlanCatalog struct {
	TrialName   string            `mapstructure:"trialName"`
	DefaultName string            `mapstructure:"defaultName"`
	Names       map[string]string `mapstructure:"names"`
	Rules       []PlanNameRule    `mapstructure:"rules"`
}

// PlanNameRule assigns Name to every plan id containing Match.
type PlanNameRule struct {
	Match string `mapstructure:"match"`
	Name  string `mapstructure:"name"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		TrialName:   "Free Trial",
		DefaultName: "Pro Plan",
		Names:       map[string]string{},
		Rules: []PlanNameRule{
			{Match: "month", Name: "Monthly Pro"},
			{Match: "year", Name: "Yearly Pro"},
		},
	}
}

// DisplayName resolves a plan id: exact entries first, then substring rules in order.
func (p PlanCatalog) DisplayName(planID string) string {
	id := strings.ToLower(strings.TrimSpace(planID))
	for key, name := range p.Names {
		if strings.ToLower(key) == id && name != "" {
			return name
		}
	}
	for _, rule := range p.Rules {
		match := strings.ToLower(strings.TrimSpace(rule.Match))
		if match != "" && strings.Contains(id, match) {
			return rule.Name
		}
	}
	return p.DefaultName
}

type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

// NewStaticPlanCatalogHolder wraps a fixed catalog, mostly for tests.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func NewPlanCatalogHolder(log *zap.Logger) (*PlanCatalogHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.plans")

	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/predixa")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PREDIXA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlanCatalog()
	v.SetDefault("plans.trialName", defaults.TrialName)
	v.SetDefault("plans.defaultName", defaults.DefaultName)
	v.SetDefault("plans.rules", defaults.Rules)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	catalog, err := decodePlanCatalog(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPlanCatalogHolder(catalog)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePlanCatalog(v)
		if err != nil {
			log.Warn("plan catalog reload rejected", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("plan catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	if h == nil {
		return DefaultPlanCatalog()
	}
	catalog, ok := h.current.Load().(PlanCatalog)
	if !ok {
		return DefaultPlanCatalog()
	}
	return catalog
}

func decodePlanCatalog(v *viper.Viper) (PlanCatalog, error) {
	var catalog PlanCatalog
	if err := v.UnmarshalKey("plans", &catalog); err != nil {
		return PlanCatalog{}, err
	}
	if err := validatePlanCatalog(catalog); err != nil {
		return PlanCatalog{}, err
	}
	if catalog.Names == nil {
		catalog.Names = map[string]string{}
	}
	return catalog, nil
}

func validatePlanCatalog(catalog PlanCatalog) error {
	if strings.TrimSpace(catalog.TrialName) == "" {
		return errors.New("plans.trialName cannot be empty")
	}
	if strings.TrimSpace(catalog.DefaultName) == "" {
		return errors.New("plans.defaultName cannot be empty")
	}
	for _, rule := range catalog.Rules {
		if strings.TrimSpace(rule.Match) == "" || strings.TrimSpace(rule.Name) == "" {
			return errors.New("plans.rules entries need match and name")
		}
	}
	return nil
}
