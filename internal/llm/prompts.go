package llm

import (
	"fmt"
	"strings"

	"github.com/mlecarme/spendsort/internal/model"
)

const maxPromptSamples = 5

func formatCategories(categories []model.EnrichedCategory) string {
	var sb strings.Builder
	for _, cat := range categories {
		prefix := ""
		if cat.ParentName != "" {
			prefix = cat.ParentName + " > "
		}
		fmt.Fprintf(&sb, "  %d: %s%s", cat.ID, prefix, cat.Name)
		if cat.Description != "" {
			fmt.Fprintf(&sb, " — %s", cat.Description)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatSamples(samples []model.TransactionSnapshot) string {
	if len(samples) == 0 {
		return "  (pas d'exemples)"
	}
	if len(samples) > maxPromptSamples {
		samples = samples[:maxPromptSamples]
	}
	var sb strings.Builder
	for i, txn := range samples {
		if i > 0 {
			sb.WriteString("\n")
		}
		sign := ""
		if txn.Amount >= 0 {
			sign = "+"
		}
		fmt.Fprintf(&sb, "  - %s (%s%.2f€, %s)", txn.LabelRaw, sign, txn.Amount, txn.Date)
	}
	return sb.String()
}

// buildCategoryPrompt asks the model to pick exactly one category for a
// group of similar transactions. The response contract is a bare JSON
// object; the parser still tolerates surrounding prose.
func buildCategoryPrompt(req CategoryRequest) string {
	return fmt.Sprintf(`Tu es un assistant de classification de transactions bancaires personnelles.

Voici les catégories disponibles :
%s

Voici un groupe de transactions similaires. Le libellé représentatif est : %q

Exemples de transactions du groupe :
%s

Dans quelle catégorie ce groupe de transactions devrait-il être classé ?

Réponds UNIQUEMENT avec un JSON valide au format suivant, sans aucun texte avant ou après :
{"category_id": <id>, "category_name": "<nom>", "confidence": "<high|medium|low>", "explanation": "<explication courte>"}

Règles :
- Choisis exactement UNE catégorie parmi la liste ci-dessus
- "confidence" : "high" si tu es sûr, "medium" si probable, "low" si incertain
- "explanation" : une phrase courte expliquant ton choix
- Si tu ne peux vraiment pas classifier, réponds : {"category_id": null, "category_name": null, "confidence": "low", "explanation": "impossible à déterminer"}`,
		formatCategories(req.Categories), req.RepresentativeLabel, formatSamples(req.Samples))
}

func formatSplitTransactions(txns []model.TransactionSnapshot) string {
	var sb strings.Builder
	for i, txn := range txns {
		if i > 0 {
			sb.WriteString("\n")
		}
		sign := ""
		if txn.Amount >= 0 {
			sign = "+"
		}
		fmt.Fprintf(&sb, "  - id=%s : %s (%s%.2f€, %s)", txn.ID, txn.LabelRaw, sign, txn.Amount, txn.Date)
	}
	return sb.String()
}

// buildSplitPrompt asks the model to partition a cluster into coherent
// sub-groups, each with a label and optional category.
func buildSplitPrompt(req SplitRequest) string {
	return fmt.Sprintf(`Tu es un assistant de classification de transactions bancaires personnelles.

Voici les catégories disponibles :
%s

Voici un groupe de transactions regroupées sous le libellé représentatif %q.
Ce groupe mélange peut-être plusieurs types de dépenses. Répartis chaque transaction
dans des sous-groupes cohérents (même marchand ou même nature de dépense).

Transactions :
%s

Réponds UNIQUEMENT avec un JSON valide au format suivant, sans aucun texte avant ou après :
{"groups": [{"representative_label": "<libellé>", "category_id": <id ou null>, "category_name": "<nom ou null>", "transaction_ids": ["<id>", ...]}]}

Règles :
- Chaque transaction doit apparaître dans exactement UN sous-groupe
- Utilise les identifiants "id=" donnés ci-dessus, sans les modifier
- "category_id" doit venir de la liste des catégories, ou null si incertain
- Si le groupe est déjà homogène, retourne un seul sous-groupe avec toutes les transactions`,
		formatCategories(req.Categories), req.RepresentativeLabel, formatSplitTransactions(req.Transactions))
}
