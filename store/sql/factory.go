package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-reconciler/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	paymentEventStore *PaymentEventStore
	orderStore        *OrderStore
	paymentStore      *PaymentStore
	productStore      *ProductStore
	jobQueueStore     *JobQueueStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.paymentEventStore != nil && f.orderStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) PaymentEventStore() *PaymentEventStore {
	if f == nil {
		return nil
	}
	return f.paymentEventStore
}

func (f *RepositoryFactory) EventStore() core.EventStore {
	if f == nil || f.paymentEventStore == nil {
		return nil
	}
	return f.paymentEventStore
}

func (f *RepositoryFactory) OrderStore() *OrderStore {
	if f == nil {
		return nil
	}
	return f.orderStore
}

func (f *RepositoryFactory) PaymentStore() *PaymentStore {
	if f == nil {
		return nil
	}
	return f.paymentStore
}

func (f *RepositoryFactory) ProductStore() *ProductStore {
	if f == nil {
		return nil
	}
	return f.productStore
}

func (f *RepositoryFactory) JobQueueStore() *JobQueueStore {
	if f == nil {
		return nil
	}
	return f.jobQueueStore
}

func (f *RepositoryFactory) initStores() error {
	paymentEventStore, err := NewPaymentEventStore(f.db)
	if err != nil {
		return err
	}
	f.paymentEventStore = paymentEventStore
	orderStore, err := NewOrderStore(f.db)
	if err != nil {
		return err
	}
	f.orderStore = orderStore
	paymentStore, err := NewPaymentStore(f.db)
	if err != nil {
		return err
	}
	f.paymentStore = paymentStore
	productStore, err := NewProductStore(f.db)
	if err != nil {
		return err
	}
	f.productStore = productStore
	jobQueueStore, err := NewJobQueueStore(f.db)
	if err != nil {
		return err
	}
	f.jobQueueStore = jobQueueStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
