package bot

import (
	"context"
	"fmt"
	"html"
	"strings"

	"telegram_ledger/internal/domain"
	"telegram_ledger/internal/flow"
	"telegram_ledger/internal/ledger"
	"telegram_ledger/internal/money"
	"telegram_ledger/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

const (
	failureText = "❌ Something went wrong, nothing was recorded. Please start again."
	expiredText = "⌛ This button belongs to a flow that has ended."
)

var problemText = map[flow.Problem]string{
	flow.ProblemNotANumber:          "❌ That is not a number. Try again, e.g. 12.50",
	flow.ProblemZero:                "❌ The amount cannot be zero.",
	flow.ProblemNegative:            "❌ The amount cannot be negative here.",
	flow.ProblemTooManyDecimals:     "❌ At most two decimal digits, please.",
	flow.ProblemTooLarge:            "❌ The amount is too large.",
	flow.ProblemInvalidChoice:       "❌ Please pick one of the options.",
	flow.ProblemSameAccount:         "❌ Pick a different account than the source.",
	flow.ProblemDescriptionTooLong:  "❌ The description is too long.",
	flow.ProblemStale:               "⌛ That button is from an earlier flow. Use the latest message.",
	flow.ProblemAccountNotFound:     "❌ Account not found. The flow was cancelled.",
	flow.ProblemTransactionNotFound: "❌ Transaction not found. The flow was cancelled.",
	flow.ProblemFailure:             failureText,
	flow.ProblemNothingToCancel:     "You have nothing left to cancel.",
}

func helpMessage(admin bool) string {
	text := `<b>📒 Ledger commands</b>

/add - Record an income or expense
/sync - Set an account to its actual balance
/transfer - Move money between accounts
/cancel - Reverse one of your transactions
/abort - Abandon the current flow
/balances - Show all balances`
	if admin {
		text += "\n\n<b>🔐 Admin:</b>\n/verify [slug] - Replay and check account balances"
	}
	return text
}

func (b *LedgerBot) renderResult(ctx context.Context, res flow.Result) (string, *tgbotapi.InlineKeyboardMarkup) {
	switch res.Outcome {
	case flow.OutcomeReprompt:
		return problemText[res.Problem], nil
	case flow.OutcomeAdvance:
		return renderPrompt(res)
	case flow.OutcomeDone:
		return b.renderDone(ctx, res), nil
	case flow.OutcomeAborted:
		if res.Problem != flow.ProblemNone {
			return problemText[res.Problem], nil
		}
		return "Flow abandoned.", nil
	}
	return "", nil
}

func renderPrompt(res flow.Result) (string, *tgbotapi.InlineKeyboardMarkup) {
	p := res.Prompt
	if p == nil {
		p = &flow.Prompt{}
	}

	switch res.Step {
	case session.StepAddAccount, session.StepSyncAccount, session.StepTransferFrom:
		return "Choose an account:", accountKeyboard(res.FlowID, p.Accounts)

	case session.StepTransferTo:
		return "Choose the destination account:", accountKeyboard(res.FlowID, p.Accounts)

	case session.StepAddAmount:
		return fmt.Sprintf("Amount in %s (negative for an expense):", p.Currency), nil

	case session.StepSyncAmount:
		current := ""
		if p.Account != nil {
			current = fmt.Sprintf("Recorded balance of <b>%s</b>: %s\n", html.EscapeString(p.Account.Name), money.Format(p.Account.Balance, p.Account.Currency))
		}
		return current + fmt.Sprintf("Enter the actual balance in %s:", p.Currency), nil

	case session.StepTransferAmount:
		return fmt.Sprintf("Amount to send in %s:", p.Currency), nil

	case session.StepTransferRate:
		text := fmt.Sprintf("Rate %s. The destination receives <b>%s</b>.\nAccept, or type the received amount.",
			p.Rate.String(), money.Format(p.Proposed, p.Currency))
		return text, keyboard(
			button("✅ Accept", res.FlowID, "accept"),
			button("✏️ Custom", res.FlowID, "custom"),
		)

	case session.StepTransferReceived:
		if p.RateUnavailable {
			return fmt.Sprintf("No exchange rate available. Enter the amount received in %s:", p.Currency), nil
		}
		return fmt.Sprintf("Enter the amount received in %s:", p.Currency), nil

	case session.StepAddDescription, session.StepTransferDescription:
		return "Description (or - to skip):", keyboard(button("Skip", res.FlowID, "-"))

	case session.StepCancelSelect:
		var sb strings.Builder
		sb.WriteString("<b>Which transaction should be cancelled?</b>\n\n")
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(p.Transactions))
		for _, t := range p.Transactions {
			line := transactionLine(t)
			sb.WriteString(line + "\n")
			rows = append(rows, []tgbotapi.InlineKeyboardButton{
				button(fmt.Sprintf("#%d %s", t.ID, money.FormatSigned(t.Amount, t.Currency)), res.FlowID, fmt.Sprint(t.ID)),
			})
		}
		markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
		return sb.String(), &markup

	case session.StepCancelConfirm:
		text := "Cancel this transaction?"
		if p.Transaction != nil {
			text = "Cancel this transaction?\n" + transactionLine(p.Transaction)
			if p.Transaction.Source == domain.SourceTransfer {
				text += "\nBoth legs of the transfer will be reversed."
			}
		}
		return text, keyboard(
			button("Yes", res.FlowID, "yes"),
			button("No", res.FlowID, "no"),
		)
	}
	return "", nil
}

func (b *LedgerBot) renderDone(ctx context.Context, res flow.Result) string {
	if res.NoOp {
		switch res.Flow {
		case session.FlowSync:
			return "✅ The balance already matches, nothing recorded."
		case session.FlowCancel:
			return problemText[flow.ProblemNothingToCancel]
		}
		return "✅ Nothing to do."
	}

	var sb strings.Builder
	sb.WriteString("✅ Recorded\n")
	for _, id := range res.TransactionIDs {
		t, err := b.ledger.Transaction(ctx, id)
		if err != nil {
			fmt.Fprintf(&sb, "#%d\n", id)
			continue
		}
		fmt.Fprintf(&sb, "%s → %s\n", transactionLine(t), money.Format(t.BalanceAfter, t.Currency))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *LedgerBot) balancesMessage(ctx context.Context) string {
	accounts, err := b.ledger.Accounts(ctx)
	if err != nil {
		b.log.Error("failed to list accounts", "error", err)
		return failureText
	}
	if len(accounts) == 0 {
		return "No accounts yet."
	}

	var sb strings.Builder
	sb.WriteString("<b>💰 Balances</b>\n\n")
	for _, a := range accounts {
		fmt.Fprintf(&sb, "• %s (<code>%s</code>): %s\n", html.EscapeString(a.Name), a.Slug, money.Format(a.Balance, a.Currency))
	}
	return sb.String()
}

func (b *LedgerBot) verifyMessage(ctx context.Context, args string) string {
	slug := strings.ToLower(strings.TrimSpace(args))

	var (
		reports []*ledger.IntegrityReport
		err     error
	)
	if slug == "" || slug == "all" {
		reports, err = b.ledger.VerifyAll(ctx)
	} else {
		var r *ledger.IntegrityReport
		r, err = b.ledger.VerifyIntegrity(ctx, slug)
		reports = append(reports, r)
	}
	if err != nil {
		return fmt.Sprintf("❌ Error: %s", html.EscapeString(err.Error()))
	}

	var sb strings.Builder
	sb.WriteString("<b>🔎 Integrity</b>\n\n")
	for _, r := range reports {
		if r.OK {
			fmt.Fprintf(&sb, "✅ <code>%s</code>: %d transactions, balance %d\n", r.AccountSlug, r.Transactions, r.Balance)
			continue
		}
		fmt.Fprintf(&sb, "❌ <code>%s</code>: %s\n", r.AccountSlug, r.Mismatch.String())
	}
	return sb.String()
}

func transactionLine(t *domain.Transaction) string {
	line := fmt.Sprintf("#%d %s %s", t.ID, t.AccountSlug, money.FormatSigned(t.Amount, t.Currency))
	if t.Description != "" {
		line += " " + html.EscapeString(t.Description)
	}
	return line
}

func accountKeyboard(flowID uuid.UUID, accounts []*domain.Account) *tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(accounts))
	for _, a := range accounts {
		buttons = append(buttons, button(fmt.Sprintf("%s (%s)", a.Name, a.Currency), flowID, a.Slug))
	}
	return keyboard(buttons...)
}

// keyboard lays buttons out two per row
func keyboard(buttons ...tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(buttons); i += 2 {
		end := min(i+2, len(buttons))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons[i:end]...))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func button(label string, flowID uuid.UUID, value string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, callbackData(flowID, value))
}
