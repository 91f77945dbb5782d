// Package seed загружает справочники клиентов и товаров из YAML-файла.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Catalog — содержимое seed-файла.
type Catalog struct {
	Customers []Customer `yaml:"customers"`
	Products  []Product  `yaml:"products"`
}

type Customer struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Product описывает товар. Цена задаётся строкой ("10.00"), чтобы не терять точность.
type Product struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Quantity int32  `yaml:"quantity"`
}

// Result — сколько записей загружено.
type Result struct {
	Customers        int
	CustomersSkipped int
	Products         int
}

// LoadFile читает и разбирает seed-файл.
func LoadFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse разбирает YAML. Неизвестные поля считаются ошибкой.
func Parse(r io.Reader) (Catalog, error) {
	var catalog Catalog
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&catalog); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("decode seed yaml: %w", err)
	}
	return catalog, nil
}

// Apply записывает справочники в хранилище. Уже существующие клиенты пропускаются,
// товары перезаписываются, так что повторный запуск безопасен.
func Apply(ctx context.Context, catalog Catalog, customers domain.CustomerRepository, products domain.ProductRepository, logger *log.Entry) (Result, error) {
	if logger == nil {
		logger = log.WithField("component", "seed")
	}

	var result Result
	for _, c := range catalog.Customers {
		err := customers.Create(ctx, domain.Customer{ID: c.ID, Name: c.Name, Email: c.Email})
		switch {
		case errors.Is(err, domain.ErrCustomerConflict):
			result.CustomersSkipped++
		case err != nil:
			return result, fmt.Errorf("seed customer %q: %w", c.ID, err)
		default:
			result.Customers++
		}
	}

	for _, p := range catalog.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return result, fmt.Errorf("seed product %q: invalid price %q: %w", p.ID, p.Price, err)
		}
		product := domain.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    price,
			Quantity: p.Quantity,
		}
		if err := products.Upsert(ctx, product); err != nil {
			return result, fmt.Errorf("seed product %q: %w", p.ID, err)
		}
		result.Products++
	}

	logger.WithFields(log.Fields{
		"customers":         result.Customers,
		"customers_skipped": result.CustomersSkipped,
		"products":          result.Products,
	}).Info("seed data applied")

	return result, nil
}
