// Пакет openapi — встроенный OpenAPI контракт HTTP API.
// Контракт отдаётся клиентам на /openapi.json и используется
// для проверки тел запросов POST /files и PATCH /files/{id}.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

// Имена схем тел запросов.
const (
	SchemaUploadRequest = "UploadRequest"
	SchemaPatchRequest  = "PatchRequest"
)

// Contract — загруженный и проверенный OpenAPI документ.
type Contract struct {
	doc      *openapi3.T
	specJSON []byte
}

// Load разбирает встроенный документ и проверяет его корректность.
func Load(ctx context.Context) (*Contract, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора OpenAPI контракта: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("некорректный OpenAPI контракт: %w", err)
	}

	specJSON, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации OpenAPI контракта: %w", err)
	}

	return &Contract{doc: doc, specJSON: specJSON}, nil
}

// JSON возвращает контракт в JSON.
func (c *Contract) JSON() []byte {
	return c.specJSON
}

// Version возвращает версию контракта из info.version.
func (c *Contract) Version() string {
	return c.doc.Info.Version
}

// ValidateBody проверяет JSON-тело запроса по схеме components/schemas/{schema}.
// Тело должно быть JSON-объектом.
func (c *Contract) ValidateBody(schema string, body []byte) error {
	ref, ok := c.doc.Components.Schemas[schema]
	if !ok || ref.Value == nil {
		return fmt.Errorf("схема %s не найдена в контракте", schema)
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("некорректный JSON в теле запроса: %w", err)
	}
	if _, ok := value.(map[string]any); !ok {
		return fmt.Errorf("тело запроса должно быть JSON-объектом")
	}

	if err := ref.Value.VisitJSON(value); err != nil {
		return fmt.Errorf("тело запроса не соответствует схеме %s: %w", schema, err)
	}
	return nil
}
