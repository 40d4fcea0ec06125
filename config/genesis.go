package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"moneymarket/core/types"
)

// Genesis lists the markets deployed when a node starts on an empty
// database.
type Genesis struct {
	RiskLabel string          `yaml:"risk_label"`
	Markets   []GenesisMarket `yaml:"markets"`
}

type GenesisMarket struct {
	AssetID          string `yaml:"asset_id"`
	Denom            string `yaml:"denom"`
	CollateralFactor string `yaml:"collateral_factor"`
	Price            string `yaml:"price"`

	factor types.Decimal
	price  types.Decimal
}

func (m GenesisMarket) Factor() types.Decimal { return m.factor }

func (m GenesisMarket) InitialPrice() types.Decimal { return m.price }

// LoadGenesis reads and validates a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseGenesis(raw)
}

func ParseGenesis(raw []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	g.RiskLabel = strings.TrimSpace(g.RiskLabel)
	if g.RiskLabel == "" {
		g.RiskLabel = "main"
	}
	seen := make(map[string]struct{}, len(g.Markets))
	var err error
	for i := range g.Markets {
		m := &g.Markets[i]
		m.AssetID = strings.ToUpper(strings.TrimSpace(m.AssetID))
		m.Denom = strings.TrimSpace(m.Denom)
		if m.AssetID == "" || m.Denom == "" {
			return nil, fmt.Errorf("genesis: market %d: asset_id and denom are required", i)
		}
		if _, dup := seen[m.AssetID]; dup {
			return nil, fmt.Errorf("genesis: duplicate market %s", m.AssetID)
		}
		seen[m.AssetID] = struct{}{}

		if m.factor, err = parseDecimal(m.CollateralFactor); err != nil {
			return nil, fmt.Errorf("genesis: %s collateral_factor: %w", m.AssetID, err)
		}
		if types.OneDecimal().Cmp(m.factor) < 0 {
			return nil, fmt.Errorf("genesis: %s collateral_factor exceeds 1", m.AssetID)
		}
		if m.price, err = parseDecimal(m.Price); err != nil {
			return nil, fmt.Errorf("genesis: %s price: %w", m.AssetID, err)
		}
	}
	return &g, nil
}

func parseDecimal(value string) (types.Decimal, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return types.Decimal{}, err
	}
	return types.DecimalFromShopspring(parsed)
}
