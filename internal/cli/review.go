package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mlecarme/spendsort/internal/engine"
	"github.com/mlecarme/spendsort/internal/model"
	"github.com/mlecarme/spendsort/internal/service"
)

// Reviewer runs the interactive proposal review loop: one cluster at a
// time, accept, adjust, split or skip.
type Reviewer struct {
	engine *engine.Engine
	reader *LineReader
	writer io.Writer
	logger *slog.Logger
}

func NewReviewer(eng *engine.Engine, input io.Reader, output io.Writer, logger *slog.Logger) *Reviewer {
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{
		engine: eng,
		reader: NewLineReader(input),
		writer: output,
		logger: logger,
	}
}

// Run walks every pending cluster of the scope's proposal. Splitting
// reloads the proposal since the membership changed under us.
func (r *Reviewer) Run(ctx context.Context, storage service.Storage, scope service.Scope) error {
	accepted, skipped := 0, 0

	for {
		proposal, err := storage.GetProposal(ctx, scope)
		if err != nil {
			return err
		}

		cluster := nextPending(proposal)
		if cluster == nil {
			break
		}

		fmt.Fprintln(r.writer, RenderBox(
			fmt.Sprintf("Cluster %d — %s", cluster.Index+1, cluster.RepresentativeLabel),
			r.formatCluster(cluster)))

		decision, err := r.decide(ctx, scope, cluster)
		if err != nil {
			return err
		}
		switch decision {
		case decisionAccepted:
			accepted++
		case decisionSkipped:
			skipped++
		case decisionQuit:
			fmt.Fprintln(r.writer, SubtleStyle.Render("Review paused; pending clusters kept."))
			return nil
		}
	}

	fmt.Fprintln(r.writer, FormatSuccess(
		fmt.Sprintf("Review complete: %d accepted, %d skipped", accepted, skipped)))
	return nil
}

type decision int

const (
	decisionAccepted decision = iota
	decisionSkipped
	decisionSplit
	decisionQuit
)

// decide prompts until the user settles the cluster. Category, rule and
// label edits patch the cluster and re-prompt.
func (r *Reviewer) decide(ctx context.Context, scope service.Scope, cluster *model.ProposalCluster) (decision, error) {
	for {
		fmt.Fprintln(r.writer, "  [a] accept  [c] change category  [r] rule pattern  [l] label  [p] split  [s] skip  [q] quit")
		fmt.Fprint(r.writer, FormatPrompt("Decision"))

		choice, err := r.reader.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, ErrInputCancelled) {
				return decisionQuit, nil
			}
			return decisionQuit, err
		}

		switch strings.ToLower(choice) {
		case "a":
			result, err := r.engine.Apply(ctx, scope, cluster.ID)
			if err != nil {
				fmt.Fprintln(r.writer, FormatError(err.Error()))
				continue
			}
			msg := fmt.Sprintf("Categorized %d transactions", result.Categorized)
			if result.Rule != nil {
				msg += fmt.Sprintf(", rule %q saved", result.Rule.Pattern)
			}
			fmt.Fprintln(r.writer, FormatSuccess(msg))
			return decisionAccepted, nil

		case "c":
			if err := r.patchCategory(ctx, scope, cluster); err != nil {
				return decisionQuit, err
			}

		case "r":
			if err := r.patchText(ctx, scope, cluster, "Rule pattern (empty to clear)", func(p *model.ClusterPatch, v string) {
				p.RulePattern = &v
			}); err != nil {
				return decisionQuit, err
			}

		case "l":
			if err := r.patchText(ctx, scope, cluster, "Custom label (empty to clear)", func(p *model.ClusterPatch, v string) {
				p.CustomLabel = &v
			}); err != nil {
				return decisionQuit, err
			}

		case "p":
			result, err := r.engine.Split(ctx, scope, cluster.ID, engine.SplitOptions{UseLLM: true})
			if err != nil {
				fmt.Fprintln(r.writer, FormatError(err.Error()))
				continue
			}
			fmt.Fprintln(r.writer, FormatSuccess(
				fmt.Sprintf("Split into %d clusters (%s)", len(result.Clusters), result.Method)))
			return decisionSplit, nil

		case "s":
			status := model.ClusterSkipped
			if err := r.engine.Patch(ctx, scope, []model.ClusterPatch{{ClusterID: cluster.ID, Status: &status}}); err != nil {
				fmt.Fprintln(r.writer, FormatError(err.Error()))
				continue
			}
			fmt.Fprintln(r.writer, SubtleStyle.Render(SkipIcon+" Skipped"))
			return decisionSkipped, nil

		case "q":
			return decisionQuit, nil

		default:
			fmt.Fprintln(r.writer, FormatWarning("Unknown choice"))
		}
	}
}

func (r *Reviewer) patchCategory(ctx context.Context, scope service.Scope, cluster *model.ProposalCluster) error {
	fmt.Fprint(r.writer, FormatPrompt("Category id"))
	value, err := r.reader.ReadLine(ctx)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		fmt.Fprintln(r.writer, FormatWarning("Not a category id"))
		return nil
	}

	patch := model.ClusterPatch{ClusterID: cluster.ID, OverrideCategoryID: &id}
	if err := r.engine.Patch(ctx, scope, []model.ClusterPatch{patch}); err != nil {
		fmt.Fprintln(r.writer, FormatError(err.Error()))
		return nil
	}
	cluster.OverrideCategoryID = &id
	fmt.Fprintln(r.writer, FormatSuccess(fmt.Sprintf("Category override set to %d", id)))
	return nil
}

func (r *Reviewer) patchText(ctx context.Context, scope service.Scope, cluster *model.ProposalCluster, prompt string, set func(*model.ClusterPatch, string)) error {
	fmt.Fprint(r.writer, FormatPrompt(prompt))
	value, err := r.reader.ReadLine(ctx)
	if err != nil {
		return err
	}

	patch := model.ClusterPatch{ClusterID: cluster.ID}
	set(&patch, value)
	if err := r.engine.Patch(ctx, scope, []model.ClusterPatch{patch}); err != nil {
		fmt.Fprintln(r.writer, FormatError(err.Error()))
		return nil
	}
	if patch.RulePattern != nil {
		cluster.RulePattern = value
	}
	if patch.CustomLabel != nil {
		cluster.CustomLabel = value
	}
	fmt.Fprintln(r.writer, FormatSuccess("Updated"))
	return nil
}

func (r *Reviewer) formatCluster(cluster *model.ProposalCluster) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%d transactions, %s total\n",
		len(cluster.TransactionIDs),
		AmountStyle.Render(fmt.Sprintf("%.2f€", cluster.TotalAmountAbs)))

	if cluster.Suggestion != nil {
		line := fmt.Sprintf("Suggested: %s (%s, %s)",
			cluster.Suggestion.CategoryName,
			cluster.Suggestion.Confidence,
			cluster.Suggestion.Source)
		if cluster.Suggestion.Similarity != nil {
			line += fmt.Sprintf(" sim=%.2f", *cluster.Suggestion.Similarity)
		}
		sb.WriteString(SuccessStyle.Render(line) + "\n")
	} else {
		sb.WriteString(WarningStyle.Render("No suggestion") + "\n")
	}
	if cluster.OverrideCategoryID != nil {
		fmt.Fprintf(&sb, "Override category: %d\n", *cluster.OverrideCategoryID)
	}
	if cluster.RulePattern != "" {
		fmt.Fprintf(&sb, "Rule pattern: %s\n", cluster.RulePattern)
	}
	if cluster.CustomLabel != "" {
		fmt.Fprintf(&sb, "Custom label: %s\n", cluster.CustomLabel)
	}

	for _, txn := range cluster.Transactions {
		fmt.Fprintf(&sb, "%s\n", SubtleStyle.Render(
			fmt.Sprintf("  %s  %8.2f€  %s", txn.Date, txn.Amount, txn.LabelRaw)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func nextPending(proposal *model.ClassificationProposal) *model.ProposalCluster {
	for i := range proposal.Clusters {
		if proposal.Clusters[i].Status == model.ClusterPending {
			return &proposal.Clusters[i]
		}
	}
	return nil
}
