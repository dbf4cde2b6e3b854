// Package entities defines the importable entity types for the migration
// target. Schemas are declared as data and registered into a catalog at
// startup; the dependency declarations drive the migration order.
package entities

import "github.com/kalstad/migrate/internal/catalog"

// Customers is the root entity; most other entities hang off it.
var Customers = catalog.EntitySchema{
	Type:        "customers",
	DisplayName: "Customers",
	Fields: []catalog.FieldSchema{
		{Name: "name", Type: catalog.FieldString, Required: true},
		{Name: "email", Type: catalog.FieldString, Required: true, Unique: true},
		{Name: "phone", Type: catalog.FieldString},
		{Name: "segment", Type: catalog.FieldEnum, EnumValues: []string{"SMB", "Mid-Market", "Enterprise"}, Default: "SMB"},
		{Name: "active", Type: catalog.FieldBoolean, Default: "true"},
		{Name: "signup_date", Type: catalog.FieldDate},
	},
}

var Contacts = catalog.EntitySchema{
	Type:        "contacts",
	DisplayName: "Contacts",
	Fields: []catalog.FieldSchema{
		{Name: "first_name", Type: catalog.FieldString, Required: true},
		{Name: "last_name", Type: catalog.FieldString, Required: true},
		{Name: "email", Type: catalog.FieldString, Required: true, Unique: true},
		{Name: "customer_email", Type: catalog.FieldReference, Required: true, References: "customers"},
		{Name: "role", Type: catalog.FieldEnum, EnumValues: []string{"Billing", "Technical", "Executive"}},
	},
	Dependencies: []string{"customers"},
}

var Products = catalog.EntitySchema{
	Type:        "products",
	DisplayName: "Products",
	Fields: []catalog.FieldSchema{
		{Name: "sku", Type: catalog.FieldString, Required: true, Unique: true},
		{Name: "name", Type: catalog.FieldString, Required: true},
		{Name: "list_price", Type: catalog.FieldNumber, Required: true},
		{Name: "currency", Type: catalog.FieldEnum, EnumValues: []string{"USD", "EUR", "GBP", "NOK"}, Default: "USD"},
		{Name: "active", Type: catalog.FieldBoolean, Default: "true"},
	},
}

var Invoices = catalog.EntitySchema{
	Type:        "invoices",
	DisplayName: "Invoices",
	Fields: []catalog.FieldSchema{
		{Name: "invoice_number", Type: catalog.FieldString, Required: true, Unique: true},
		{Name: "customer_email", Type: catalog.FieldReference, Required: true, References: "customers"},
		{Name: "issue_date", Type: catalog.FieldDate, Required: true},
		{Name: "due_date", Type: catalog.FieldDate},
		{Name: "status", Type: catalog.FieldEnum, EnumValues: []string{"draft", "sent", "paid", "void"}, Default: "draft"},
		{Name: "total", Type: catalog.FieldNumber},
	},
	Dependencies: []string{"customers"},
}

var InvoiceItems = catalog.EntitySchema{
	Type:        "invoice_items",
	DisplayName: "Invoice Items",
	Fields: []catalog.FieldSchema{
		{Name: "line_key", Type: catalog.FieldString, Required: true, Unique: true},
		{Name: "invoice_number", Type: catalog.FieldReference, Required: true, References: "invoices"},
		{Name: "sku", Type: catalog.FieldReference, Required: true, References: "products"},
		{Name: "quantity", Type: catalog.FieldNumber, Required: true},
		{Name: "unit_price", Type: catalog.FieldNumber, Required: true},
	},
	Dependencies: []string{"invoices", "products"},
}

var Payments = catalog.EntitySchema{
	Type:        "payments",
	DisplayName: "Payments",
	Fields: []catalog.FieldSchema{
		{Name: "reference", Type: catalog.FieldString, Required: true, Unique: true},
		{Name: "invoice_number", Type: catalog.FieldReference, Required: true, References: "invoices"},
		{Name: "paid_date", Type: catalog.FieldDate, Required: true},
		{Name: "amount", Type: catalog.FieldNumber, Required: true},
		{Name: "method", Type: catalog.FieldEnum, EnumValues: []string{"card", "transfer", "check"}},
	},
	Dependencies: []string{"invoices"},
}

// Register adds every entity schema to the catalog. The caller finalizes.
func Register(c *catalog.Catalog) {
	c.Register(Customers)
	c.Register(Contacts)
	c.Register(Products)
	c.Register(Invoices)
	c.Register(InvoiceItems)
	c.Register(Payments)
}

// Default builds and finalizes the standard catalog.
func Default() (*catalog.Catalog, error) {
	c := catalog.New()
	Register(c)
	if err := c.Finalize(); err != nil {
		return nil, err
	}
	return c, nil
}
