/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package commerce declares the fixed e-commerce schema: categories, products,
// variants, attributes, customers, addresses, orders, and order items, plus
// the two junction entities carrying the variant/attribute-value and
// product-attribute/value many-to-many relations.
package commerce

import (
	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/schema"
)

// Entity names as registered.
const (
	Category              = "Category"
	Product               = "Product"
	ProductVariant        = "ProductVariant"
	ProductAttribute      = "ProductAttribute"
	Attribute             = "Attribute"
	AttributeValue        = "AttributeValue"
	VariantAttributeValue = "VariantAttributeValue"
	ProductAttributeValue = "ProductAttributeValue"
	Customer              = "Customer"
	Address               = "Address"
	Order                 = "Order"
	OrderItem             = "OrderItem"
)

// timestamps returns the lifecycle fields every entity carries. created_at is
// set on creation, updated_at bumped on every successful mutation.
func timestamps() []schema.FieldDef {
	return []schema.FieldDef{
		{Name: "created_at", Kind: schema.KindTime},
		{Name: "updated_at", Kind: schema.KindTime},
	}
}

func fields(own []schema.FieldDef) []schema.FieldDef {
	id := schema.FieldDef{Name: "id", Kind: schema.KindString}
	out := append([]schema.FieldDef{id}, own...)
	return append(out, timestamps()...)
}

// New builds and finalizes the commerce registry.
func New() (*schema.Registry, error) {
	reg := schema.NewRegistry()
	defs := []*schema.EntityDef{
		{
			Name: Category,
			Fields: fields([]schema.FieldDef{
				{Name: "name", Kind: schema.KindString},
				{Name: "parent_id", Kind: schema.KindString, Nullable: true},
				{Name: "image_url", Kind: schema.KindString, Nullable: true},
				{Name: "description", Kind: schema.KindString, Nullable: true},
			}),
			Relations: []schema.RelationDef{
				// A category with children or products must not be deleted.
				{Name: "parent", Kind: schema.BelongsTo, Target: Category, ForeignKey: "parent_id", RestrictDelete: true},
				{Name: "children", Kind: schema.HasMany, Target: Category, ForeignKey: "parent_id"},
				{Name: "products", Kind: schema.HasMany, Target: Product, ForeignKey: "category_id"},
			},
		},
		{
			Name: Product,
			Fields: fields([]schema.FieldDef{
				{Name: "name", Kind: schema.KindString},
				{Name: "description", Kind: schema.KindString},
				{Name: "category_id", Kind: schema.KindString},
				{Name: "thumbnail_url", Kind: schema.KindString},
				{Name: "images", Kind: schema.KindStringList},
				{Name: "brand_id", Kind: schema.KindString, Nullable: true},
				{Name: "slug", Kind: schema.KindString, Nullable: true, Unique: true},
				{Name: "related_products", Kind: schema.KindStringList},
			}),
			Relations: []schema.RelationDef{
				{Name: "category", Kind: schema.BelongsTo, Target: Category, ForeignKey: "category_id", Required: true},
				{Name: "variants", Kind: schema.HasMany, Target: ProductVariant, ForeignKey: "product_id"},
				{Name: "attributes", Kind: schema.HasMany, Target: ProductAttribute, ForeignKey: "product_id"},
				{Name: "order_items", Kind: schema.HasMany, Target: OrderItem, ForeignKey: "product_id"},
			},
		},
		{
			Name: ProductVariant,
			Fields: fields([]schema.FieldDef{
				{Name: "product_id", Kind: schema.KindString},
				{Name: "sku", Kind: schema.KindString, Unique: true},
				{Name: "price", Kind: schema.KindDecimal},
				{Name: "sale_price", Kind: schema.KindDecimal, Nullable: true},
				{Name: "stock", Kind: schema.KindInt, NonNegative: true},
				{Name: "status", Kind: schema.KindString, Enum: []string{"active", "inactive", "out_of_stock"}, Default: "active"},
				{Name: "size", Kind: schema.KindJson},
				{Name: "image_url", Kind: schema.KindString, Nullable: true},
				{Name: "barcode", Kind: schema.KindString, Nullable: true},
			}),
			Relations: []schema.RelationDef{
				{Name: "product", Kind: schema.BelongsTo, Target: Product, ForeignKey: "product_id", Required: true},
				{Name: "attribute_values", Kind: schema.ManyToMany, Target: AttributeValue,
					Through: VariantAttributeValue, ThroughSourceKey: "variant_id", ThroughTargetKey: "attribute_value_id"},
				{Name: "order_items", Kind: schema.HasMany, Target: OrderItem, ForeignKey: "variant_id"},
			},
		},
		{
			Name: ProductAttribute,
			Fields: fields([]schema.FieldDef{
				{Name: "product_id", Kind: schema.KindString},
				{Name: "attribute_id", Kind: schema.KindString},
			}),
			CompoundUniques: [][]string{{"product_id", "attribute_id"}},
			Relations: []schema.RelationDef{
				{Name: "product", Kind: schema.BelongsTo, Target: Product, ForeignKey: "product_id", Required: true},
				{Name: "attribute", Kind: schema.BelongsTo, Target: Attribute, ForeignKey: "attribute_id", Required: true},
				{Name: "values", Kind: schema.ManyToMany, Target: AttributeValue,
					Through: ProductAttributeValue, ThroughSourceKey: "product_attribute_id", ThroughTargetKey: "attribute_value_id"},
			},
		},
		{
			Name: Attribute,
			Fields: fields([]schema.FieldDef{
				{Name: "name", Kind: schema.KindString, Unique: true},
				{Name: "display_order", Kind: schema.KindInt, Nullable: true},
			}),
			Relations: []schema.RelationDef{
				{Name: "values", Kind: schema.HasMany, Target: AttributeValue, ForeignKey: "attribute_id"},
				{Name: "product_attributes", Kind: schema.HasMany, Target: ProductAttribute, ForeignKey: "attribute_id"},
			},
		},
		{
			Name: AttributeValue,
			Fields: fields([]schema.FieldDef{
				{Name: "attribute_id", Kind: schema.KindString},
				{Name: "value", Kind: schema.KindString},
				{Name: "display_order", Kind: schema.KindInt, Nullable: true},
			}),
			CompoundUniques: [][]string{{"attribute_id", "value"}},
			Relations: []schema.RelationDef{
				{Name: "attribute", Kind: schema.BelongsTo, Target: Attribute, ForeignKey: "attribute_id", Required: true},
				{Name: "variants", Kind: schema.ManyToMany, Target: ProductVariant,
					Through: VariantAttributeValue, ThroughSourceKey: "attribute_value_id", ThroughTargetKey: "variant_id"},
				{Name: "product_attributes", Kind: schema.ManyToMany, Target: ProductAttribute,
					Through: ProductAttributeValue, ThroughSourceKey: "attribute_value_id", ThroughTargetKey: "product_attribute_id"},
			},
		},
		{
			Name: VariantAttributeValue,
			Fields: fields([]schema.FieldDef{
				{Name: "variant_id", Kind: schema.KindString},
				{Name: "attribute_value_id", Kind: schema.KindString},
			}),
			CompoundUniques: [][]string{{"variant_id", "attribute_value_id"}},
			Relations: []schema.RelationDef{
				{Name: "variant", Kind: schema.BelongsTo, Target: ProductVariant, ForeignKey: "variant_id", Required: true},
				{Name: "attribute_value", Kind: schema.BelongsTo, Target: AttributeValue, ForeignKey: "attribute_value_id", Required: true},
			},
		},
		{
			Name: ProductAttributeValue,
			Fields: fields([]schema.FieldDef{
				{Name: "product_attribute_id", Kind: schema.KindString},
				{Name: "attribute_value_id", Kind: schema.KindString},
			}),
			CompoundUniques: [][]string{{"product_attribute_id", "attribute_value_id"}},
			Relations: []schema.RelationDef{
				{Name: "product_attribute", Kind: schema.BelongsTo, Target: ProductAttribute, ForeignKey: "product_attribute_id", Required: true},
				{Name: "attribute_value", Kind: schema.BelongsTo, Target: AttributeValue, ForeignKey: "attribute_value_id", Required: true},
			},
		},
		{
			Name: Customer,
			Fields: fields([]schema.FieldDef{
				{Name: "email", Kind: schema.KindString, Unique: true},
				{Name: "cognito_id", Kind: schema.KindString, Unique: true},
				{Name: "first_name", Kind: schema.KindString},
				{Name: "last_name", Kind: schema.KindString, Nullable: true},
				{Name: "is_guest", Kind: schema.KindBool, Default: false},
				{Name: "status", Kind: schema.KindString, Enum: []string{"active", "disabled"}, Default: "active"},
				{Name: "total_spent", Kind: schema.KindDecimal, Nullable: true},
				{Name: "order_count", Kind: schema.KindInt, Nullable: true},
			}),
			Relations: []schema.RelationDef{
				{Name: "addresses", Kind: schema.HasMany, Target: Address, ForeignKey: "customer_id"},
				{Name: "orders", Kind: schema.HasMany, Target: Order, ForeignKey: "customer_id"},
			},
		},
		{
			Name: Address,
			Fields: fields([]schema.FieldDef{
				{Name: "customer_id", Kind: schema.KindString, Nullable: true},
				{Name: "recipient", Kind: schema.KindString},
				{Name: "street", Kind: schema.KindString},
				{Name: "city", Kind: schema.KindString},
				{Name: "state", Kind: schema.KindString},
				{Name: "postal_code", Kind: schema.KindString},
				{Name: "country", Kind: schema.KindString},
				{Name: "is_default", Kind: schema.KindBool, Nullable: true},
				{Name: "type", Kind: schema.KindString, Nullable: true, Enum: []string{"shipping", "billing"}},
			}),
			Relations: []schema.RelationDef{
				// Optional: guest checkout addresses have no customer.
				{Name: "customer", Kind: schema.BelongsTo, Target: Customer, ForeignKey: "customer_id"},
			},
		},
		{
			Name: Order,
			Fields: fields([]schema.FieldDef{
				{Name: "customer_id", Kind: schema.KindString, Nullable: true},
				{Name: "status", Kind: schema.KindString, Default: "pending",
					Enum: []string{"pending", "processing", "shipped", "delivered", "cancelled", "refunded"}},
				// total_amount is caller-validated input; the engine never
				// recomputes it from items.
				{Name: "total_amount", Kind: schema.KindDecimal},
				{Name: "shipping_address", Kind: schema.KindJson},
				{Name: "billing_address", Kind: schema.KindJson, Nullable: true},
				{Name: "payment_status", Kind: schema.KindString, Default: "pending",
					Enum: []string{"pending", "paid", "failed", "refunded"}},
				{Name: "payment_method", Kind: schema.KindString, Nullable: true,
					Enum: []string{"card", "paypal", "bank_transfer", "cash_on_delivery"}},
				{Name: "shipping_cost", Kind: schema.KindDecimal},
				{Name: "tax_amount", Kind: schema.KindDecimal},
				{Name: "discount_amount", Kind: schema.KindDecimal, Nullable: true},
				{Name: "tracking_number", Kind: schema.KindString, Nullable: true},
				{Name: "carrier", Kind: schema.KindString, Nullable: true,
					Enum: []string{"ups", "fedex", "usps", "dhl"}},
				{Name: "estimated_delivery", Kind: schema.KindTime, Nullable: true},
			}),
			Relations: []schema.RelationDef{
				{Name: "customer", Kind: schema.BelongsTo, Target: Customer, ForeignKey: "customer_id"},
				{Name: "items", Kind: schema.HasMany, Target: OrderItem, ForeignKey: "order_id"},
			},
		},
		{
			Name: OrderItem,
			Fields: fields([]schema.FieldDef{
				{Name: "order_id", Kind: schema.KindString},
				{Name: "product_id", Kind: schema.KindString},
				{Name: "variant_id", Kind: schema.KindString},
				{Name: "quantity", Kind: schema.KindInt, Positive: true},
				// Snapshot fields taken at order time; immutable with respect
				// to later product/variant mutation.
				{Name: "price_at_purchase", Kind: schema.KindDecimal, Immutable: true},
				{Name: "variant_sku", Kind: schema.KindString, Immutable: true},
				{Name: "variant_attributes", Kind: schema.KindJson, Immutable: true},
				{Name: "refunded_quantity", Kind: schema.KindInt, Nullable: true},
				{Name: "refund_amount", Kind: schema.KindDecimal, Nullable: true},
			}),
			RowChecks: []schema.RowCheck{
				{Name: "refunded_quantity_within_quantity", Check: checkRefundedQuantity},
			},
			Relations: []schema.RelationDef{
				{Name: "order", Kind: schema.BelongsTo, Target: Order, ForeignKey: "order_id", Required: true},
				{Name: "product", Kind: schema.BelongsTo, Target: Product, ForeignKey: "product_id", Required: true},
				{Name: "variant", Kind: schema.BelongsTo, Target: ProductVariant, ForeignKey: "variant_id", Required: true},
			},
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	return reg, nil
}

// checkRefundedQuantity keeps refunds within the ordered quantity.
func checkRefundedQuantity(row map[string]any) error {
	rq, ok := row["refunded_quantity"].(int64)
	if !ok {
		return nil
	}
	q, ok := row["quantity"].(int64)
	if !ok {
		return nil
	}
	if rq < 0 || rq > q {
		return qerrors.NewValidationError("refunded_quantity", "must be between 0 and quantity")
	}
	return nil
}

// MustNew is New for wiring and test code where the fixed schema cannot fail.
func MustNew() *schema.Registry {
	reg, err := New()
	if err != nil {
		panic(err)
	}
	return reg
}
