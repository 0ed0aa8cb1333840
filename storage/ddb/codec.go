/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/suparena/querycore/document"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// Single-table layout. Every entity shares one table; the partition key groups
// an entity's items and the sort key separates data rows from the pointer
// items that back unique constraints.
//
//	PK = "E#<entity>"   SK = "R#<id>"                  data row
//	PK = "E#<entity>"   SK = "U#<index>#<key-string>"  unique pointer -> row_id
const (
	attrPK = "PK"
	attrSK = "SK"
)

func entityPK(entity string) string { return "E#" + entity }

func rowSK(id string) string { return "R#" + id }

func uniqueSK(fields []string, keyString string) string {
	return "U#" + strings.Join(fields, ",") + "#" + keyString
}

// encodeRow converts canonical row values into DynamoDB attribute values.
// Numbers keep full precision: int64 and decimal both travel as N.
func encodeRow(def *schema.EntityDef, row storage.Row) (map[string]types.AttributeValue, error) {
	av := make(map[string]types.AttributeValue, len(row)+2)
	for i := range def.Fields {
		fd := &def.Fields[i]
		v, ok := row[fd.Name]
		if !ok || v == nil {
			av[fd.Name] = &types.AttributeValueMemberNULL{Value: true}
			continue
		}
		enc, err := encodeValue(fd, v)
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", def.Name, fd.Name, err)
		}
		av[fd.Name] = enc
	}
	return av, nil
}

func encodeValue(fd *schema.FieldDef, v any) (types.AttributeValue, error) {
	switch fd.Kind {
	case schema.KindString:
		return &types.AttributeValueMemberS{Value: v.(string)}, nil
	case schema.KindInt:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v.(int64), 10)}, nil
	case schema.KindBool:
		return &types.AttributeValueMemberBOOL{Value: v.(bool)}, nil
	case schema.KindDecimal:
		return &types.AttributeValueMemberN{Value: v.(decimal.Decimal).String()}, nil
	case schema.KindTime:
		return &types.AttributeValueMemberS{Value: v.(time.Time).UTC().Format(time.RFC3339Nano)}, nil
	case schema.KindJson:
		data, err := json.Marshal(v.(document.Value))
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberS{Value: string(data)}, nil
	case schema.KindStringList:
		list := v.([]string)
		items := make([]types.AttributeValue, len(list))
		for i, s := range list {
			items[i] = &types.AttributeValueMemberS{Value: s}
		}
		return &types.AttributeValueMemberL{Value: items}, nil
	}
	return nil, fmt.Errorf("unsupported field kind %s", fd.Kind)
}

// decodeRow converts a stored item back into canonical row values. The PK and
// SK attributes are dropped.
func decodeRow(def *schema.EntityDef, item map[string]types.AttributeValue) (storage.Row, error) {
	row := make(storage.Row, len(def.Fields))
	for i := range def.Fields {
		fd := &def.Fields[i]
		av, ok := item[fd.Name]
		if !ok {
			row[fd.Name] = nil
			continue
		}
		v, err := decodeValue(fd, av)
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", def.Name, fd.Name, err)
		}
		row[fd.Name] = v
	}
	return row, nil
}

func decodeValue(fd *schema.FieldDef, av types.AttributeValue) (any, error) {
	if _, isNull := av.(*types.AttributeValueMemberNULL); isNull {
		return nil, nil
	}
	switch fd.Kind {
	case schema.KindString:
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("expected S, got %T", av)
		}
		return s.Value, nil
	case schema.KindInt:
		n, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("expected N, got %T", av)
		}
		i, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return nil, err
		}
		return i, nil
	case schema.KindBool:
		b, ok := av.(*types.AttributeValueMemberBOOL)
		if !ok {
			return nil, fmt.Errorf("expected BOOL, got %T", av)
		}
		return b.Value, nil
	case schema.KindDecimal:
		n, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("expected N, got %T", av)
		}
		d, err := decimal.NewFromString(n.Value)
		if err != nil {
			return nil, err
		}
		return d, nil
	case schema.KindTime:
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("expected S, got %T", av)
		}
		t, err := time.Parse(time.RFC3339Nano, s.Value)
		if err != nil {
			return nil, err
		}
		return t, nil
	case schema.KindJson:
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("expected S, got %T", av)
		}
		dv, err := document.FromJSON([]byte(s.Value))
		if err != nil {
			return nil, err
		}
		return dv, nil
	case schema.KindStringList:
		l, ok := av.(*types.AttributeValueMemberL)
		if !ok {
			return nil, fmt.Errorf("expected L, got %T", av)
		}
		out := make([]string, len(l.Value))
		for i, item := range l.Value {
			s, ok := item.(*types.AttributeValueMemberS)
			if !ok {
				return nil, fmt.Errorf("expected S list member, got %T", item)
			}
			out[i] = s.Value
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported field kind %s", fd.Kind)
}
