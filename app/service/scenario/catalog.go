// Package scenario holds the role briefings and priority tables participants negotiate over.
package scenario

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"negotiator/app/config"

	"github.com/go-playground/validator/v10"
	"github.com/samber/do"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

//go:embed refund_dispute.yaml
var defaultCatalog []byte

type Role string

const (
	Buyer  Role = "buyer"
	Seller Role = "seller"
)

func (r Role) Valid() bool {
	return r == Buyer || r == Seller
}

// Counterpart is the role on the other side of the table.
func (r Role) Counterpart() Role {
	if r == Buyer {
		return Seller
	}
	return Buyer
}

type Priority struct {
	Item   string `yaml:"item" json:"item" validate:"required"`
	Points int    `yaml:"points" json:"points" validate:"gte=0,lte=100"`
}

type Brief struct {
	Scenario   string     `yaml:"scenario" json:"scenario" validate:"required"`
	Priorities []Priority `yaml:"priorities" json:"priorities" validate:"required,min=1,dive"`
}

type Catalog struct {
	Name  string         `yaml:"name" json:"name" validate:"required"`
	Title string         `yaml:"title" json:"title"`
	Roles map[Role]Brief `yaml:"roles" json:"roles" validate:"required,dive"`
}

func New(di *do.Injector) (*Catalog, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if cfg.ScenarioFile == "" {
		return Parse(defaultCatalog)
	}

	data, err := os.ReadFile(cfg.ScenarioFile)
	if err != nil {
		return nil, oops.Errorf("failed to read scenario file: %w", err)
	}

	return Parse(data)
}

func Default() *Catalog {
	catalog, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return catalog
}

func Parse(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, oops.Errorf("failed to parse scenario catalog: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(catalog); err != nil {
		return nil, oops.Errorf("failed to validate scenario catalog: %w", err)
	}

	for _, role := range []Role{Buyer, Seller} {
		if _, ok := catalog.Roles[role]; !ok {
			return nil, oops.Errorf("scenario catalog has no %s brief", role)
		}
	}

	return &catalog, nil
}

func (c *Catalog) Brief(role Role) (Brief, bool) {
	brief, ok := c.Roles[role]
	return brief, ok
}

// FormatPriorities renders a priority table as prompt text.
func FormatPriorities(priorities []Priority) string {
	var builder strings.Builder

	for _, p := range priorities {
		builder.WriteString(fmt.Sprintf("- %s (%d points)\n", p.Item, p.Points))
	}

	return strings.TrimSpace(builder.String())
}
