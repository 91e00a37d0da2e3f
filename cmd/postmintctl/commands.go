package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Password: ")
			password, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			var resp struct {
				Token     string `json:"token"`
				ExpiresIn int64  `json:"expires_in"`
			}
			if err := doRequest("POST", "/api/v1/auth/login", map[string]string{"password": string(password)}, &resp); err != nil {
				return err
			}
			if err := saveToken(resp.Token); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Logged in, token valid for %ds\n", resp.ExpiresIn)
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stock levels for all accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", "/api/v1/stock", nil)
		},
	}
}

func newGenerateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <account>",
		Short: "Generate one post for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/v1/generate/"+url.PathEscape(args[0]), nil)
		},
	}
}

func newScoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "score <text>",
		Short: "Score a draft without stocking it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/v1/score", map[string]string{"text": strings.Join(args, " ")})
		},
	}
}

func newStockCommand() *cobra.Command {
	stockCmd := &cobra.Command{
		Use:   "stock",
		Short: "Inspect and manage post inventory",
	}

	stockCmd.AddCommand(&cobra.Command{
		Use:   "list <account>",
		Short: "List unused posts for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", "/api/v1/stock/"+url.PathEscape(args[0]), nil)
		},
	})

	stockCmd.AddCommand(&cobra.Command{
		Use:   "consume <account>",
		Short: "Claim the best unused post for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("POST", "/api/v1/stock/"+url.PathEscape(args[0])+"/consume", nil)
		},
	})

	refillAll := false
	refillCmd := &cobra.Command{
		Use:   "refill [account]",
		Short: "Refill one account, or all with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			if refillAll {
				return call("POST", "/api/v1/stock/refill-all", nil)
			}
			if len(args) != 1 {
				return fmt.Errorf("an account is required without --all")
			}
			return call("POST", "/api/v1/stock/"+url.PathEscape(args[0])+"/refill", nil)
		},
	}
	refillCmd.Flags().BoolVar(&refillAll, "all", false, "Refill every account")
	stockCmd.AddCommand(refillCmd)

	return stockCmd
}

func newTestCommand() *cobra.Command {
	testCmd := &cobra.Command{
		Use:   "abtest",
		Short: "Manage A/B tests",
	}

	var (
		targetA, benefitA string
		targetB, benefitB string
		minPosts          int
	)
	startCmd := &cobra.Command{
		Use:   "start <account>",
		Short: "Start a test between two (target, benefit) combinations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"account":               args[0],
				"variant_a":             map[string]string{"target_label": targetA, "benefit_label": benefitA},
				"variant_b":             map[string]string{"target_label": targetB, "benefit_label": benefitB},
				"min_posts_per_variant": minPosts,
			}
			return call("POST", "/api/v1/abtests", body)
		},
	}
	startCmd.Flags().StringVar(&targetA, "target-a", "", "Variant A target label")
	startCmd.Flags().StringVar(&benefitA, "benefit-a", "", "Variant A benefit label")
	startCmd.Flags().StringVar(&targetB, "target-b", "", "Variant B target label")
	startCmd.Flags().StringVar(&benefitB, "benefit-b", "", "Variant B benefit label")
	startCmd.Flags().IntVar(&minPosts, "min-posts", 10, "Minimum posts per variant before evaluation")
	for _, f := range []string{"target-a", "benefit-a", "target-b", "benefit-b"} {
		_ = startCmd.MarkFlagRequired(f)
	}
	testCmd.AddCommand(startCmd)

	testCmd.AddCommand(&cobra.Command{
		Use:   "list <account>",
		Short: "List an account's tests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", "/api/v1/abtests/"+url.PathEscape(args[0]), nil)
		},
	})

	testCmd.AddCommand(&cobra.Command{
		Use:   "suggest <account>",
		Short: "Suggest the next test for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", "/api/v1/abtests/"+url.PathEscape(args[0])+"/suggest", nil)
		},
	})

	testCmd.AddCommand(&cobra.Command{
		Use:   "best <account>",
		Short: "Show the best known combinations for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("GET", "/api/v1/abtests/"+url.PathEscape(args[0])+"/best", nil)
		},
	})

	var (
		resultVariant string
		resultDM      bool
		resultConv    bool
	)
	resultCmd := &cobra.Command{
		Use:   "result <account>",
		Short: "Record one post outcome for a variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"variant":    resultVariant,
				"dm":         resultDM,
				"conversion": resultConv,
			}
			return call("POST", "/api/v1/abtests/"+url.PathEscape(args[0])+"/results", body)
		},
	}
	resultCmd.Flags().StringVar(&resultVariant, "variant", "", "Variant the post belonged to (A or B)")
	resultCmd.Flags().BoolVar(&resultDM, "dm", false, "The post led to an inbound DM")
	resultCmd.Flags().BoolVar(&resultConv, "conversion", false, "The post led to a conversion")
	_ = resultCmd.MarkFlagRequired("variant")
	testCmd.AddCommand(resultCmd)

	return testCmd
}

func newOutcomeCommand() *cobra.Command {
	outcomeCmd := &cobra.Command{
		Use:   "outcome",
		Short: "Report post outcomes for learning",
	}

	var (
		account string
		text    string
		score   float64
		target  string
		benefit string
		variant string
		dm      bool
		conv    bool
		reason  string
	)

	addCommon := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&account, "account", "", "Account the post belonged to")
		cmd.Flags().StringVar(&text, "text", "", "Post text")
		cmd.Flags().Float64Var(&score, "score", 0, "Quality score the post had")
		cmd.Flags().StringVar(&target, "target", "", "Target label")
		cmd.Flags().StringVar(&benefit, "benefit", "", "Benefit label")
		cmd.Flags().StringVar(&variant, "variant", "", "A/B variant, if part of a test")
		_ = cmd.MarkFlagRequired("account")
		_ = cmd.MarkFlagRequired("text")
	}

	goodCmd := &cobra.Command{
		Use:   "good",
		Short: "Report a successful post",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"account": account, "text": text, "score": score,
				"target_label": target, "benefit_label": benefit,
				"variant": variant, "dm": dm, "conversion": conv,
			}
			return call("POST", "/api/v1/outcomes/good", body)
		},
	}
	addCommon(goodCmd)
	goodCmd.Flags().BoolVar(&dm, "dm", false, "The post led to an inbound DM")
	goodCmd.Flags().BoolVar(&conv, "conversion", false, "The post led to a conversion")
	outcomeCmd.AddCommand(goodCmd)

	badCmd := &cobra.Command{
		Use:   "bad",
		Short: "Report a failed post",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"account": account, "text": text, "score": score,
				"target_label": target, "benefit_label": benefit,
				"variant": variant, "reason": reason,
			}
			return call("POST", "/api/v1/outcomes/bad", body)
		},
	}
	addCommon(badCmd)
	badCmd.Flags().StringVar(&reason, "reason", "", "Why the post failed")
	outcomeCmd.AddCommand(badCmd)

	return outcomeCmd
}

func newEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream pipeline events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(serverURL)
			if err != nil {
				return err
			}
			switch u.Scheme {
			case "https":
				u.Scheme = "wss"
			default:
				u.Scheme = "ws"
			}
			u.Path = "/api/v1/events"

			conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer conn.Close()

			for {
				var event map[string]interface{}
				if err := conn.ReadJSON(&event); err != nil {
					return nil
				}
				if err := printJSON(event); err != nil {
					return err
				}
			}
		},
	}
}
