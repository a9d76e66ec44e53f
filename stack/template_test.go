package stack

import (
	"reflect"
	"testing"
)

const yamlTemplate = `
AWSTemplateFormatVersion: "2010-09-09"
Transform: AWS::Serverless-2016-10-31
Resources:
  ProcessOrderFn:
    Type: AWS::Lambda::Function
    Properties:
      Runtime: nodejs18.x
      Handler: index.handler
      MemorySize: 256
      Role: !GetAtt ProcessOrderRole.Arn
      Environment:
        Variables:
          TABLE: !Ref OrdersTable
          TOPIC: !Sub "arn:aws:sns:${AWS::Region}:${AWS::AccountId}:orders"
  OrdersTable:
    Type: AWS::DynamoDB::Table
    Properties:
      BillingMode: PAY_PER_REQUEST
`

const jsonTemplate = `{
  "Resources": {
    "ProcessOrderFn": {
      "Type": "AWS::Lambda::Function",
      "Properties": {"Runtime": "python3.12", "Timeout": 30, "Role": {"Fn::GetAtt": ["Role", "Arn"]}}
    },
    "Bucket": {"Type": "AWS::S3::Bucket"}
  }
}`

func TestParseTemplateYAML(t *testing.T) {
	tpl, err := ParseTemplate(yamlTemplate)
	if err != nil {
		t.Fatalf("ParseTemplate() error: %v", err)
	}
	if len(tpl) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(tpl))
	}

	fn := tpl["ProcessOrderFn"]
	if fn.Type != FunctionResourceType {
		t.Errorf("Type = %q", fn.Type)
	}
	if rt, ok := fn.StringProperty("Runtime"); !ok || rt != "nodejs18.x" {
		t.Errorf("Runtime = %q (ok=%v)", rt, ok)
	}
	if mem, ok := fn.Properties["MemorySize"].(int); !ok || mem != 256 {
		t.Errorf("MemorySize = %#v", fn.Properties["MemorySize"])
	}

	wantRole := map[string]any{"Fn::GetAtt": []any{"ProcessOrderRole", "Arn"}}
	if !reflect.DeepEqual(fn.Properties["Role"], wantRole) {
		t.Errorf("Role = %#v, want %#v", fn.Properties["Role"], wantRole)
	}
	vars := fn.Properties["Environment"].(map[string]any)["Variables"].(map[string]any)
	if !reflect.DeepEqual(vars["TABLE"], map[string]any{"Ref": "OrdersTable"}) {
		t.Errorf("TABLE = %#v", vars["TABLE"])
	}
	if _, ok := vars["TOPIC"].(map[string]any)["Fn::Sub"]; !ok {
		t.Errorf("TOPIC = %#v", vars["TOPIC"])
	}
	if _, ok := fn.StringProperty("Role"); ok {
		t.Error("intrinsic values must not be reported as strings")
	}

	if tpl["OrdersTable"].Type != "AWS::DynamoDB::Table" {
		t.Errorf("OrdersTable type = %q", tpl["OrdersTable"].Type)
	}
}

func TestParseTemplateJSON(t *testing.T) {
	tpl, err := ParseTemplate(jsonTemplate)
	if err != nil {
		t.Fatalf("ParseTemplate() error: %v", err)
	}
	if rt, _ := tpl["ProcessOrderFn"].StringProperty("Runtime"); rt != "python3.12" {
		t.Errorf("Runtime = %q", rt)
	}
	if tpl["Bucket"].Properties != nil {
		t.Errorf("expected nil properties, got %#v", tpl["Bucket"].Properties)
	}
}

func TestParseTemplateErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", "   "},
		{"no resources", "AWSTemplateFormatVersion: 2010-09-09\n"},
		{"invalid json", `{"Resources": `},
		{"invalid yaml", "Resources: [unclosed"},
		{"scalar root", "just a string"},
		{"resource not a mapping", "Resources:\n  Fn: 42\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTemplate(tt.body); err == nil {
				t.Error("expected error")
			}
		})
	}
}
