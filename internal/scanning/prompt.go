package scanning

import (
	"encoding/json"
	"strings"
)

// categoryRules steer the model toward a category by receipt semantics
var categoryRules = [][2]string{
	{"restaurants, fast food, cafes, groceries", "Food & Dining"},
	{"Uber, taxis, fuel, parking, public transit", "Transportation"},
	{"clothing, electronics, general retail", "Shopping"},
	{"movies, games, streaming subscriptions", "Entertainment"},
	{"doctor, pharmacy, medical", "Healthcare"},
	{"rent, mortgage", "Housing"},
	{"electricity, water, internet, phone", "Utilities"},
	{"books, courses, tuition", "Education"},
	{"hotels, flights, tourism", "Travel"},
	{"haircut, cosmetics, gym", "Personal Care"},
	{"charity, presents", "Gifts & Donations"},
	{"anything unclear", FallbackCategory},
}

// buildReceiptPrompt embeds the recognized text and the caller's categories
// into the extraction instructions.
func buildReceiptPrompt(rawText string, categories []string) string {
	if categories == nil {
		categories = []string{}
	}
	var list strings.Builder
	enc := json.NewEncoder(&list)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(categories)

	var b strings.Builder
	b.WriteString("Analyze this receipt text and extract the fields below.\n")
	b.WriteString("Return ONLY valid JSON with no extra text.\n\n")

	b.WriteString("RECEIPT TEXT:\n")
	b.WriteString(rawText)
	b.WriteString("\n\n")

	b.WriteString("AVAILABLE CATEGORIES:\n")
	b.WriteString(strings.TrimSuffix(list.String(), "\n"))
	b.WriteString("\n\n")

	b.WriteString("REQUIRED FORMAT (exactly these five keys):\n")
	b.WriteString("{\n")
	b.WriteString("  \"amount\": <number or null>,\n")
	b.WriteString("  \"currency\": \"<3-letter code or null>\",\n")
	b.WriteString("  \"description\": \"<store name or main item>\",\n")
	b.WriteString("  \"date\": \"<DD-MM-YYYY or null>\",\n")
	b.WriteString("  \"categoryName\": \"<exact name from the available categories>\"\n")
	b.WriteString("}\n\n")

	b.WriteString("FIELD RULES:\n")
	b.WriteString("- amount: the total paid, as a number with a dot for decimals (e.g. 8.10). null if not found.\n")
	b.WriteString("- currency: ISO 4217 code such as USD, EUR, GBP. null if not found.\n")
	b.WriteString("- description: short description of the purchase, usually the store name. Max 200 characters. Never null.\n")
	b.WriteString("- date: the transaction date as DD-MM-YYYY. null if not found.\n")
	b.WriteString("- categoryName: the most appropriate category from the available list:\n")
	for _, rule := range categoryRules {
		b.WriteString("  * " + rule[0] + " -> \"" + rule[1] + "\"\n")
	}
	b.WriteString("  Return the EXACT category name from the available list. If nothing matches, return \"" + FallbackCategory + "\".\n\n")

	b.WriteString("CRITICAL: Return ONLY the JSON object. No markdown, no explanation.")
	return b.String()
}
