package catalog

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ucp-checkout/internal/model"
)

// DefaultCurrency is assumed for catalog rows that leave currency blank.
const DefaultCurrency = "USD"

// csvMinFields is id,title,price,currency,image,category. Extra columns are ignored.
const csvMinFields = 6

//go:embed flower_shop.csv
var flowerShopCSV []byte

// Default returns the bundled flower shop catalog.
func Default() *Memory {
	products, err := LoadCSV(bytes.NewReader(flowerShopCSV))
	if err != nil {
		panic(fmt.Sprintf("catalog: bundled CSV is invalid: %v", err))
	}
	return NewMemory(products...)
}

// LoadFile loads a catalog from a .csv, .yaml or .yml file.
func LoadFile(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	var products []model.Product
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		products, err = LoadCSV(f)
	case ".yaml", ".yml":
		products, err = LoadYAML(f)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return NewMemory(products...), nil
}

// LoadCSV reads products from CSV. The first row is a header and is skipped.
// Blank rows, short rows, rows without an id and rows with an unparseable
// price are skipped.
func LoadCSV(r io.Reader) ([]model.Product, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var products []model.Product
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) < csvMinFields {
			continue
		}
		id := strings.TrimSpace(rec[0])
		if id == "" {
			continue
		}
		price, err := model.ParseMinorUnits(rec[2])
		if err != nil {
			continue
		}
		products = append(products, model.Product{
			ID:        id,
			Title:     strings.TrimSpace(rec[1]),
			UnitPrice: price,
			Currency:  currencyOrDefault(rec[3]),
			ImageURL:  strings.TrimSpace(rec[4]),
			Category:  strings.TrimSpace(rec[5]),
		})
	}
	return products, nil
}

type yamlCatalog struct {
	Products []yamlProduct `yaml:"products"`
}

type yamlProduct struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Price    int64  `yaml:"price"`
	Currency string `yaml:"currency"`
	ImageURL string `yaml:"image_url"`
	Category string `yaml:"category"`
}

// LoadYAML reads products from a document of the form
//
//	products:
//	  - id: bouquet_roses
//	    title: Red Rose Bouquet
//	    price: 3500
func LoadYAML(r io.Reader) ([]model.Product, error) {
	var doc yamlCatalog
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	products := make([]model.Product, 0, len(doc.Products))
	for _, p := range doc.Products {
		if strings.TrimSpace(p.ID) == "" {
			continue
		}
		products = append(products, model.Product{
			ID:        strings.TrimSpace(p.ID),
			Title:     p.Title,
			UnitPrice: p.Price,
			Currency:  currencyOrDefault(p.Currency),
			ImageURL:  p.ImageURL,
			Category:  p.Category,
		})
	}
	return products, nil
}

func currencyOrDefault(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return DefaultCurrency
	}
	return c
}
