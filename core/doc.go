// Package core holds the reconciliation domain: payment events, the orders,
// payments and products that reconcilers correct, store and provider
// contracts, configuration and the error taxonomy. Storage and provider
// adapters depend on core, never the reverse.
package core
