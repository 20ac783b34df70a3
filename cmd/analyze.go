package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/service"
)

const analyzeSystemPrompt = `You are a racquet sports coach. You are given structured data from a
match-tracking tool (tennis, padel, pickleball, badminton, squash or table tennis) and a
question from the player. "self" is the player asking; "opponent" is the other side.

Rules:
- Answer ONLY from the data provided. Never invent or estimate statistics.
- Always cite specific numbers when making a claim.
- If the data is insufficient to answer confidently, say so explicitly.
- Be concise and actionable. Focus on what the player can actually improve.

Metrics glossary:
- Narrative: one label per match (wire_to_wire, big_comeback_win, blown_lead_loss, dominant,
  close_game, back_and_forth, win, loss).
- Max lead: largest point margin each side held at any moment.
- Lead changes: times the leader flipped. Longest run: most consecutive points by one side.
- Comeback size: deepest deficit the winner recovered from.
- Serve %: share of rallies won while serving. Side-out %: share of opponent service turns won back.
- Breaks: points won against serve (rally scoring) or side-outs gained (side-out scoring).
- Win probability: self's chance of winning after each point, 0 to 1.
- Streak: positive = consecutive wins, negative = consecutive losses.`

var (
	analyzeModel  string
	analyzeAPIKey string
	analyzeDays   int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "AI-powered grounded analysis (requires ANTHROPIC_API_KEY)",
}

var analyzePerfCmd = &cobra.Command{
	Use:   "perf <question>",
	Short: "Analyze rolling performance with AI",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyzePerf,
}

var analyzeMatchCmd = &cobra.Command{
	Use:   "match <match-id> <question>",
	Short: "Analyze a single match with AI",
	Args:  cobra.ExactArgs(2),
	RunE:  runAnalyzeMatch,
}

func init() {
	analyzeCmd.PersistentFlags().StringVar(&analyzeModel, "model", "claude-haiku-4-5-20251001", "Anthropic model to use")
	analyzeCmd.PersistentFlags().StringVar(&analyzeAPIKey, "api-key", "", "Anthropic API key (falls back to $ANTHROPIC_API_KEY)")
	analyzePerfCmd.Flags().IntVarP(&analyzeDays, "days", "d", 30, "window length in days (0 for all time)")

	analyzeCmd.AddCommand(analyzePerfCmd)
	analyzeCmd.AddCommand(analyzeMatchCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyzePerf(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.svc.AggregatePerformance(analyzeDays)
	if st.Matches == 0 {
		return fmt.Errorf("no matches in the last %d days", analyzeDays)
	}
	var recent []matchContext
	for _, m := range a.svc.ListMatches(service.Filter{Since: st.From}) {
		rep, err := a.svc.InsightsFor(m.ID)
		if err != nil {
			return err
		}
		recent = append(recent, newMatchContext(m, rep, false))
	}
	contextJSON, err := json.Marshal(map[string]any{
		"window_days": analyzeDays,
		"summary":     newPerfContext(st),
		"matches":     recent,
	})
	if err != nil {
		return fmt.Errorf("build context: %w", err)
	}
	return callAnthropic(cmd.Context(), analyzeAPIKey, analyzeModel, string(contextJSON), args[0])
}

func runAnalyzeMatch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.svc.Match(args[0])
	if err != nil {
		return fmt.Errorf("find match: %w", err)
	}
	rep, err := a.svc.InsightsFor(m.ID)
	if err != nil {
		return err
	}
	contextJSON, err := json.Marshal(newMatchContext(m, rep, true))
	if err != nil {
		return fmt.Errorf("build context: %w", err)
	}
	return callAnthropic(cmd.Context(), analyzeAPIKey, analyzeModel, string(contextJSON), args[1])
}

// matchContext is the compact per-match payload sent to the model.
type matchContext struct {
	ID          string             `json:"id"`
	Date        string             `json:"date"`
	Sport       model.Sport        `json:"sport"`
	Result      string             `json:"result"`
	Score       string             `json:"score"`
	Sets        []model.Score      `json:"sets,omitempty"`
	Minutes     float64            `json:"minutes"`
	Narrative   model.Narrative    `json:"narrative"`
	LeadChanges int                `json:"lead_changes,omitempty"`
	LongestRun  *model.Run         `json:"longest_run,omitempty"`
	Comeback    int                `json:"comeback_size,omitempty"`
	MaxLead     map[string]int     `json:"max_lead,omitempty"`
	ServePct    map[string]float64 `json:"serve_pct,omitempty"`
	SideOutPct  map[string]float64 `json:"side_out_pct,omitempty"`
	Aces        map[string]int     `json:"aces,omitempty"`
	KeyMoments  []model.KeyMoment  `json:"key_moments,omitempty"`
	WinProb     []float64          `json:"win_probability,omitempty"`
}

func newMatchContext(m model.MatchRecord, rep model.InsightReport, detailed bool) matchContext {
	c := matchContext{
		ID:        m.ID,
		Date:      m.StartedAt.Format(time.DateOnly),
		Sport:     m.Sport,
		Result:    m.Winner.String(),
		Score:     m.FinalScore.String(),
		Sets:      m.Sets,
		Minutes:   round2(m.Duration.Minutes()),
		Narrative: rep.Narrative,
	}
	if !rep.HasSequence {
		return c
	}
	c.LeadChanges = rep.LeadChanges
	c.Comeback = rep.ComebackSize
	run := rep.LongestRun
	c.LongestRun = &run

	sides := []model.Side{model.SideSelf, model.SideOpponent}
	c.MaxLead = map[string]int{}
	c.Aces = map[string]int{}
	c.ServePct = map[string]float64{}
	c.SideOutPct = map[string]float64{}
	for _, s := range sides {
		c.MaxLead[s.String()] = rep.MaxLead.Get(s)
		c.Aces[s.String()] = rep.Aces.Get(s)
		if p := rep.ServeEfficiency.Get(s); p != nil {
			c.ServePct[s.String()] = round2(*p)
		}
		if p := rep.SideOutRate.Get(s); p != nil {
			c.SideOutPct[s.String()] = round2(*p)
		}
	}
	if detailed {
		c.KeyMoments = rep.KeyMoments
		for _, p := range rep.WinProbability {
			c.WinProb = append(c.WinProb, round2(p))
		}
	}
	return c
}

func newPerfContext(st model.AggregateStats) map[string]any {
	out := map[string]any{
		"matches":             st.Matches,
		"wins":                st.Wins,
		"losses":              st.Losses,
		"minutes_played":      round2(st.TotalPlayed.Minutes()),
		"this_week":           st.ThisWeek,
		"by_sport":            st.BySport,
		"current_streak":      st.CurrentStreak,
		"longest_win_streak":  st.LongestWinStreak,
		"longest_loss_streak": st.LongestLossStreak,
	}
	for k, p := range map[string]*float64{
		"win_rate_pct":      st.WinRate,
		"mean_serve_pct":    st.MeanServeEfficiency,
		"mean_side_out_pct": st.MeanSideOutRate,
	} {
		if p != nil {
			out[k] = round2(*p)
		}
	}
	return out
}

// round2 rounds a float64 to 2 decimal places.
func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// callAnthropic streams a response from the Anthropic API and prints it to stdout.
func callAnthropic(ctx context.Context, apiKey, modelID, dataJSON, question string) error {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("no API key: set ANTHROPIC_API_KEY or use --api-key")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	userMsg := fmt.Sprintf("DATA:\n%s\n\nQUESTION: %s", dataJSON, question)

	fmt.Fprintln(os.Stdout, "\n─── AI Analysis ─────────────────────────────────────")

	stream := client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: analyzeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMsg)),
		},
	})

	for stream.Next() {
		evt := stream.Current()
		if evt.Type == "content_block_delta" {
			delta := evt.AsContentBlockDelta()
			if delta.Delta.Type == "text_delta" {
				fmt.Fprint(os.Stdout, delta.Delta.AsTextDelta().Text)
			}
		}
	}
	fmt.Fprintln(os.Stdout, "\n─────────────────────────────────────────────────────")

	if err := stream.Err(); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "authentication") {
			return fmt.Errorf("API authentication failed, check your API key")
		}
		return fmt.Errorf("streaming error: %w", err)
	}
	return nil
}
