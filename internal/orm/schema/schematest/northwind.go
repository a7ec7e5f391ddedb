// Package schematest provides a Northwind registry fixture for tests.
package schematest

import (
	"strings"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// NorthwindYAML is the definition used by Northwind
const NorthwindYAML = `
namespace: Northwind
types:
  - name: Customer
    keyGeneration: identity
    keys: [CustomerID]
    concurrency: RowVersion
    properties:
      - {name: CustomerID, kind: integer}
      - {name: CompanyName, kind: string}
      - {name: ContactName, kind: string, nullable: true}
      - {name: Phone, kind: string, nullable: true}
      - {name: RowVersion, kind: integer}
    relationships:
      - {name: Orders, target: Order, cardinality: many, foreignKeys: [CustomerID], inverse: Customer}

  - name: Employee
    keyGeneration: identity
    keys: [EmployeeID]
    properties:
      - {name: EmployeeID, kind: integer}
      - {name: LastName, kind: string}
      - {name: FirstName, kind: string}
      - {name: ReportsToID, kind: integer, nullable: true}
    relationships:
      - {name: Manager, target: Employee, cardinality: one, foreignKeys: [ReportsToID], inverse: DirectReports}
      - {name: DirectReports, target: Employee, cardinality: many, foreignKeys: [ReportsToID], inverse: Manager}

  - name: Order
    keyGeneration: identity
    keys: [OrderID]
    concurrency: RowVersion
    properties:
      - {name: OrderID, kind: integer}
      - {name: CustomerID, kind: integer}
      - {name: EmployeeID, kind: integer, nullable: true}
      - {name: OrderDate, kind: datetime, nullable: true}
      - {name: Freight, kind: decimal, nullable: true}
      - {name: ShipName, kind: string, nullable: true}
      - {name: RowVersion, kind: integer}
    relationships:
      - {name: Customer, target: Customer, cardinality: one, foreignKeys: [CustomerID], inverse: Orders}
      - {name: Employee, target: Employee, cardinality: one, foreignKeys: [EmployeeID]}
      - {name: Details, target: OrderDetail, cardinality: many, foreignKeys: [OrderID], inverse: Order}

  - name: Product
    keyGeneration: identity
    keys: [ProductID]
    properties:
      - {name: ProductID, kind: integer}
      - {name: ProductName, kind: string}
      - {name: UnitPrice, kind: decimal}
      - {name: Discontinued, kind: boolean}

  - name: OrderDetail
    keyGeneration: clientSupplied
    keys: [OrderID, ProductID]
    properties:
      - {name: OrderID, kind: integer}
      - {name: ProductID, kind: integer}
      - {name: Quantity, kind: integer}
      - {name: UnitPrice, kind: decimal}
    relationships:
      - {name: Order, target: Order, cardinality: one, foreignKeys: [OrderID], inverse: Details}
      - {name: Product, target: Product, cardinality: one, foreignKeys: [ProductID]}

  - name: Shipper
    keyGeneration: identity
    keys: [ShipperID]
    concurrency: LastModified
    properties:
      - {name: ShipperID, kind: guid}
      - {name: CompanyName, kind: string}
      - {name: Logo, kind: binary, nullable: true}
      - {name: LastModified, kind: datetime}
`

// Northwind returns a freshly built, sealed Northwind registry
func Northwind() *schema.Registry {
	reg, err := schema.LoadDefinition(strings.NewReader(NorthwindYAML))
	if err != nil {
		panic(err)
	}
	return reg
}

// MustLookup returns the named type or panics
func MustLookup(reg *schema.Registry, name string) *schema.EntityType {
	t, err := reg.Lookup(name)
	if err != nil {
		panic(err)
	}
	return t
}
