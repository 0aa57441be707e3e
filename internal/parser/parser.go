package parser

import (
	"github.com/maltedev/product-research/internal/models"
)

// Parser turns a rendered listing page into records.
type Parser interface {
	ParseRows(html string) ([]models.Record, error)
}
