// Package gormstore persists plan and subscription state in a local sqlite
// database, surviving app restarts without a server-side dependency.
package gormstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/corvomail/payments/backend"
	"github.com/corvomail/payments/plan"
)

type planRow struct {
	Name        string `gorm:"primaryKey"`
	PlanID      string
	Currency    string
	Purchasable bool
	Pricing     string
	UpdatedAt   time.Time
}

func (planRow) TableName() string { return "plans" }

type subscriptionRow struct {
	ID             uint `gorm:"primaryKey"`
	SubscriptionID string
	PlanName       string
	Cycle          int
	Amount         int64
	PeriodEnd      time.Time
	UpdatedAt      time.Time
}

func (subscriptionRow) TableName() string { return "subscription" }

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "error opening plan database")
	}

	err = db.AutoMigrate(&planRow{}, &subscriptionRow{})
	if err != nil {
		return nil, errors.Wrap(err, "error migrating plan schema")
	}

	return &Store{db: db}, nil
}

func New(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(&planRow{}, &subscriptionRow{})
	if err != nil {
		return nil, errors.Wrap(err, "error migrating plan schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) SavePlans(ctx context.Context, plans []*backend.PlanDetails) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, details := range plans {
			row, err := toPlanRow(details)
			if err != nil {
				return err
			}
			err = tx.Save(row).Error
			if err != nil {
				return errors.Wrapf(err, "error saving plan %s", details.Name)
			}
		}
		return nil
	})
}

func (s *Store) GetPlan(ctx context.Context, name string) (*backend.PlanDetails, error) {
	var row planRow
	err := s.db.WithContext(ctx).First(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, plan.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "error loading plan")
	}
	return fromPlanRow(&row)
}

func (s *Store) SaveSubscription(ctx context.Context, sub *backend.Subscription) error {
	row := &subscriptionRow{
		ID:             1,
		SubscriptionID: sub.ID,
		PlanName:       sub.PlanName,
		Cycle:          sub.Cycle,
		Amount:         sub.Amount,
		PeriodEnd:      sub.PeriodEnd,
	}
	return errors.Wrap(s.db.WithContext(ctx).Save(row).Error, "error saving subscription")
}

func (s *Store) GetSubscription(ctx context.Context) (*backend.Subscription, error) {
	var row subscriptionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, backend.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "error loading subscription")
	}
	return &backend.Subscription{
		ID:        row.SubscriptionID,
		PlanName:  row.PlanName,
		Cycle:     row.Cycle,
		Amount:    row.Amount,
		PeriodEnd: row.PeriodEnd,
	}, nil
}

func toPlanRow(details *backend.PlanDetails) (*planRow, error) {
	pricing, err := json.Marshal(details.Pricing)
	if err != nil {
		return nil, errors.Wrap(err, "error encoding pricing")
	}
	return &planRow{
		Name:        details.Name,
		PlanID:      details.ID,
		Currency:    details.Currency,
		Purchasable: details.Purchasable,
		Pricing:     string(pricing),
	}, nil
}

func fromPlanRow(row *planRow) (*backend.PlanDetails, error) {
	pricing := map[int]int64{}
	if len(row.Pricing) > 0 {
		err := json.Unmarshal([]byte(row.Pricing), &pricing)
		if err != nil {
			return nil, errors.Wrap(err, "error decoding pricing")
		}
	}
	return &backend.PlanDetails{
		ID:          row.PlanID,
		Name:        row.Name,
		Pricing:     pricing,
		Currency:    row.Currency,
		Purchasable: row.Purchasable,
	}, nil
}
