package sites

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/product-research/internal/paginator"
	"github.com/maltedev/product-research/internal/parser"
)

// Site describes how to log into and paginate one admin tool.
type Site struct {
	Name        string              `yaml:"name" json:"name"`
	StartURL    string              `yaml:"start_url" json:"start_url"`
	LoginCheck  string              `yaml:"login_check" json:"login_check"`
	LoginWait   time.Duration       `yaml:"login_wait" json:"login_wait"`
	Selectors   paginator.Selectors `yaml:"selectors" json:"selectors"`
	APIResponse string              `yaml:"api_response" json:"api_response,omitempty"`
	MaxPages    int                 `yaml:"max_pages" json:"max_pages"`
	Settle      time.Duration       `yaml:"settle" json:"settle"`
	Columns     []parser.Column     `yaml:"columns" json:"columns"`
}

type File struct {
	Sites []Site `yaml:"sites"`
}

type Registry struct {
	sites map[string]Site
}

// Load reads a YAML site file and layers it over the built-in profiles.
// An empty path yields the built-ins only.
func Load(path string) (*Registry, error) {
	r := Defaults()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse site file: %w", err)
	}

	for _, s := range f.Sites {
		if s.Name == "" {
			return nil, fmt.Errorf("site without name in %s", path)
		}
		s.applyDefaults()
		r.sites[s.Name] = s
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Site, bool) {
	s, ok := r.sites[name]
	return s, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sites))
	for name := range r.sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Site) applyDefaults() {
	defaults := paginator.DefaultSelectors()
	if s.Selectors.Root == "" {
		s.Selectors.Root = defaults.Root
	}
	if s.Selectors.Item == "" {
		s.Selectors.Item = defaults.Item
	}
	if s.Selectors.Active == "" {
		s.Selectors.Active = defaults.Active
	}
	if s.Selectors.Control == "" {
		s.Selectors.Control = defaults.Control
	}
	if len(s.Selectors.Next) == 0 {
		s.Selectors.Next = defaults.Next
	}
	if s.LoginWait <= 0 {
		s.LoginWait = 3 * time.Minute
	}
	if s.Settle <= 0 {
		s.Settle = time.Second
	}
}

// Defaults returns the built-in profiles for Seerfar, the Ozon seller
// panel and the ERP plugin.
func Defaults() *Registry {
	builtin := []Site{
		{
			Name:        "seerfar",
			StartURL:    "https://seerfar.cn/admin/product-search.html",
			LoginCheck:  ".user-info, .ant-avatar",
			APIResponse: "/api/product/search",
			MaxPages:    10,
			Selectors: paginator.Selectors{
				Root: ".ant-table-wrapper",
			},
			Columns: []parser.Column{
				{Field: "title", Selector: "td:nth-child(2) .product-title"},
				{Field: "url", Selector: "td:nth-child(2) a", Attr: "href"},
				{Field: "category", Selector: "td:nth-child(3)"},
				{Field: "price_rub", Selector: "td:nth-child(4)", Number: true},
				{Field: "monthly_sales", Selector: "td:nth-child(5)", Number: true},
				{Field: "monthly_revenue_rub", Selector: "td:nth-child(6)", Number: true},
				{Field: "weight_kg", Selector: "td:nth-child(7)", Number: true, Scale: 0.001},
			},
		},
		{
			Name:       "ozon",
			StartURL:   "https://seller.ozon.ru/app/products",
			LoginCheck: "[data-widget='sellerName'], .seller-name",
			MaxPages:   20,
			Selectors: paginator.Selectors{
				Root:    "main",
				Item:    "tbody tr",
				Active:  "[aria-current='page']",
				Control: "nav button",
				Next:    []string{`nav button[aria-label="Next"]`, `button:has-text("Далее")`},
			},
			Columns: []parser.Column{
				{Field: "sku", Selector: "td:nth-child(2)"},
				{Field: "title", Selector: "td:nth-child(3)"},
				{Field: "price_rub", Selector: "td:nth-child(5)", Number: true},
				{Field: "stock", Selector: "td:nth-child(6)", Number: true},
			},
		},
		{
			Name:       "erp",
			StartURL:   "https://erp.91miaoshou.com/ozon/product",
			LoginCheck: ".header-user, .el-avatar",
			MaxPages:   10,
			Selectors: paginator.Selectors{
				Root:    ".el-table, .ant-table-wrapper",
				Item:    ".el-table__row, tr.ant-table-row",
				Active:  ".el-pager li.is-active, .ant-pagination-item-active",
				Control: ".el-pager li, .ant-pagination-item",
				Next:    []string{"button.btn-next:not([disabled])", ".ant-pagination-next:not(.ant-pagination-disabled)"},
			},
			Columns: []parser.Column{
				{Field: "sku", Selector: ".cell .sku, td:nth-child(2)"},
				{Field: "title", Selector: ".cell .title, td:nth-child(3)"},
				{Field: "purchase_cost", Selector: ".cell .cost, td:nth-child(4)", Number: true},
				{Field: "weight_kg", Selector: ".cell .weight, td:nth-child(5)", Number: true, Scale: 0.001},
				{Field: "length_cm", Selector: ".cell .length", Number: true},
				{Field: "width_cm", Selector: ".cell .width", Number: true},
				{Field: "height_cm", Selector: ".cell .height", Number: true},
			},
		},
	}

	r := &Registry{sites: make(map[string]Site, len(builtin))}
	for _, s := range builtin {
		s.applyDefaults()
		r.sites[s.Name] = s
	}
	return r
}
