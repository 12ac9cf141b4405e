package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCleansText(t *testing.T) {
	raw := "  \n```text\nCreate an order.\n\n\n\n\nThen approve it.\n```\n  "
	got := Normalize(raw)
	assert.Equal(t, "Create an order.\n\nThen approve it.", got.Content)
	assert.Equal(t, "en", got.Language.Code)
	assert.Nil(t, got.Metadata)
}

func TestNormalizeEnvelope(t *testing.T) {
	raw := `{"content":"Der Kunde bestellt und wenn genehmigt, dann wird geliefert.",
		"options":{"verbosity":"low","returnIntermediate":true},
		"metadata":{"source":"api","version":2},"sessionId":"s-1"}`
	got := Normalize(raw)
	assert.Equal(t, "Der Kunde bestellt und wenn genehmigt, dann wird geliefert.", got.Content)
	assert.Equal(t, "low", got.Options.Verbosity)
	assert.True(t, got.Options.ReturnIntermediate)
	assert.Equal(t, "api", got.Metadata["source"])
	assert.Equal(t, "2", got.Metadata["version"])
	assert.Equal(t, "s-1", got.Metadata["sessionId"])
	assert.Equal(t, "de", got.Language.Code)
}

func TestNormalizeBrokenEnvelopeFallsBack(t *testing.T) {
	raw := `{"content": "unterminated`
	got := Normalize(raw)
	assert.Equal(t, raw, got.Content)
	assert.Empty(t, got.Options.Verbosity)
}

func TestNormalizeEnvelopeWithTrailingText(t *testing.T) {
	got := Normalize(`{"prompt":"start, create order"} then end`)
	assert.Equal(t, "start, create order\n\nthen end", got.Content)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		code string
	}{
		{"顾客下订单，经理审批订单，然后结束流程。", "zh"},
		{"顧客が注文を作成し、マネージャーが承認します。", "ja"},
		{"고객이 주문을 생성하고 관리자가 승인합니다", "ko"},
		{"Клиент создает заказ, менеджер утверждает заказ", "ru"},
		{"العميل ينشئ طلبا ثم يوافق المدير", "ar"},
		{"ग्राहक ऑर्डर बनाता है और प्रबंधक स्वीकृत करता है", "hi"},
		{"Le client passe une commande puis le manager valide la commande", "fr"},
		{"El cliente crea un pedido y entonces el gerente aprueba los pedidos", "es"},
		{"De klant plaatst een bestelling en het wordt niet goedgekeurd", "nl"},
		{"The customer places an order and the manager will approve it", "en"},
		{"xyz 123", "en"},
		{"", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.text, func(t *testing.T) {
			assert.Equal(t, tt.code, DetectLanguage(tt.text).Code)
		})
	}
}

func TestCanonicalKey(t *testing.T) {
	a := CanonicalKey("Create  a simple\n\nOrder process")
	b := CanonicalKey("create a SIMPLE order\tprocess ")
	require.Equal(t, a, b)
	assert.Equal(t, "create a simple order process", a)
}
