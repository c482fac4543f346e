// Copyright (c) 2026 Bambinounos
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"context"
	"testing"

	"github.com/bambinounos/eia/internal/models"
)

func extractBody(t *testing.T, from models.EmailAddress, body string) models.EntitySet {
	t.Helper()
	msg := &models.RawMessage{
		MessageID: "<m1@example.com>",
		From:      from,
		Subject:   "Request",
		TextBody:  body,
	}
	set, err := NewRules().Extract(context.Background(), msg)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return set
}

func firstOfType(set models.EntitySet, typ string) (models.Entity, bool) {
	return set.First(typ)
}

func TestRules_PurchaseRequest(t *testing.T) {
	from := models.EmailAddress{Name: "Acme Industrial", Address: "maria@acme.com"}
	set := extractBody(t, from,
		"Hello,\nwe need 500 units of WidgetPro, delivered to our plant.\n"+
			"Budget is $12,500. Contact ops@acme.com with questions.\n"+
			"Deadline: 2026-09-15\nRegards, Maria")

	org, ok := firstOfType(set, models.EntityOrganization)
	if !ok || org.Text != "Acme Industrial" {
		t.Errorf("organization = %+v, want Acme Industrial", org)
	}

	prod, ok := firstOfType(set, models.EntityProduct)
	if !ok {
		t.Fatal("no product entity extracted")
	}
	if prod.Text != "WidgetPro" {
		t.Errorf("product = %q, want WidgetPro", prod.Text)
	}
	if prod.Normalized != "widgetpro" {
		t.Errorf("normalized = %q, want widgetpro", prod.Normalized)
	}

	qty, ok := firstOfType(set, models.EntityQuantity)
	if !ok {
		t.Fatal("no quantity entity extracted")
	}
	if qty.Normalized != "500" {
		t.Errorf("quantity = %q, want 500", qty.Normalized)
	}

	price, ok := firstOfType(set, models.EntityPrice)
	if !ok || price.Normalized != "12500" {
		t.Errorf("price = %+v, want normalized 12500", price)
	}

	contact, ok := firstOfType(set, models.EntityContact)
	if !ok || contact.Normalized != "ops@acme.com" {
		t.Errorf("contact = %+v, want ops@acme.com", contact)
	}

	deadline, ok := firstOfType(set, models.EntityDeadline)
	if !ok || deadline.Normalized != "2026-09-15" {
		t.Errorf("deadline = %+v, want 2026-09-15", deadline)
	}
}

func TestRules_SpanishQuantityAndProduct(t *testing.T) {
	from := models.EmailAddress{Address: "compras@empresa.cl"}
	set := extractBody(t, from, "Necesitamos 200 unidades de WidgetLite, para entrega en octubre.")

	prod, ok := firstOfType(set, models.EntityProduct)
	if !ok || prod.Normalized != "widgetlite" {
		t.Errorf("product = %+v, want widgetlite", prod)
	}
	qty, ok := firstOfType(set, models.EntityQuantity)
	if !ok || qty.Normalized != "200" {
		t.Errorf("quantity = %+v, want 200", qty)
	}
}

func TestRules_QuotedProductLowerConfidence(t *testing.T) {
	from := models.EmailAddress{Address: "buyer@x.com"}
	set := extractBody(t, from, `Do you still sell the "Gizmo Classic" line?`)

	prod, ok := firstOfType(set, models.EntityProduct)
	if !ok {
		t.Fatal("no product entity for quoted phrase")
	}
	if prod.Text != "Gizmo Classic" {
		t.Errorf("product = %q, want Gizmo Classic", prod.Text)
	}
	if prod.Confidence >= 0.85 {
		t.Errorf("quoted product confidence = %v, want below the phrase-pattern confidence", prod.Confidence)
	}
}

func TestRules_SenderNotAContact(t *testing.T) {
	from := models.EmailAddress{Address: "maria@acme.com"}
	set := extractBody(t, from, "Write to maria@acme.com or sales@acme.com.")

	var contacts []models.Entity
	for _, e := range set.Entities {
		if e.Type == models.EntityContact {
			contacts = append(contacts, e)
		}
	}
	if len(contacts) != 1 || contacts[0].Normalized != "sales@acme.com" {
		t.Errorf("contacts = %+v, want only sales@acme.com", contacts)
	}
}

func TestRules_OrganizationFallsBackToDomain(t *testing.T) {
	from := models.EmailAddress{Address: "jefe@transportes.mx"}
	set := extractBody(t, from, "need a quote")

	org, ok := firstOfType(set, models.EntityOrganization)
	if !ok || org.Text != "transportes" {
		t.Errorf("organization = %+v, want domain-derived transportes", org)
	}
}

func TestRules_DuplicateProductsCollapsed(t *testing.T) {
	from := models.EmailAddress{Address: "b@x.com"}
	set := extractBody(t, from,
		"We need 10 units of WidgetPro. Also quote \"WidgetPro\" spare parts.")

	count := 0
	for _, e := range set.Entities {
		if e.Type == models.EntityProduct {
			count++
		}
	}
	if count != 1 {
		t.Errorf("product entities = %d, want deduplicated to 1", count)
	}
}

func TestRules_EmptyBody(t *testing.T) {
	from := models.EmailAddress{Name: "Acme", Address: "a@acme.com"}
	set := extractBody(t, from, "")

	for _, e := range set.Entities {
		if e.Type != models.EntityOrganization {
			t.Errorf("unexpected entity from empty body: %+v", e)
		}
	}
}
