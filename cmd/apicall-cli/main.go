package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var apiHost string

func main() {
	rootCmd := &cobra.Command{
		Use:   "apicall-cli",
		Short: "Remote control for the VoxCampaign orchestrator",
		Long:  `A command-line tool for managing VoxCampaign campaigns and calls remotely.`,
	}
	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://localhost:8080", "base URL of the API (e.g. http://203.0.113.10:8080)")

	// === CAMPAIGNS ===
	campaignCmd := &cobra.Command{Use: "campaign", Short: "Manage campaigns"}

	campaignListCmd := &cobra.Command{Use: "list", Short: "List active/paused campaigns", Run: runCampaignList}

	campaignCreateCmd := &cobra.Command{Use: "create", Short: "Create a campaign", Run: runCampaignCreate}
	campaignCreateCmd.Flags().String("name", "", "campaign name (required)")
	campaignCreateCmd.Flags().String("prompt", "", "agent system prompt (required)")
	campaignCreateCmd.Flags().String("first-message", "", "agent's opening line")
	campaignCreateCmd.Flags().String("caller-id", "", "outbound caller ID")
	campaignCreateCmd.Flags().String("region", "", "carrier region")
	campaignCreateCmd.Flags().Int("max-concurrent", 1, "max concurrent calls")
	campaignCreateCmd.Flags().Int("call-delay-ms", 5000, "delay between dials in milliseconds")
	campaignCreateCmd.Flags().Int("retry-count", 0, "retry attempts per contact")
	campaignCreateCmd.Flags().Int("retry-delay-ms", 60000, "delay before a retry in milliseconds")

	campaignStartCSVCmd := &cobra.Command{
		Use:   "start-from-csv [file]",
		Short: "Create, populate from a CSV roster and immediately start a campaign",
		Args:  cobra.ExactArgs(1),
		Run:   runCampaignStartFromCSV,
	}
	campaignStartCSVCmd.Flags().String("name", "", "campaign name (required)")
	campaignStartCSVCmd.Flags().String("prompt", "", "agent system prompt (required)")
	campaignStartCSVCmd.Flags().String("first-message", "", "agent's opening line")
	campaignStartCSVCmd.Flags().String("caller-id", "", "outbound caller ID")
	campaignStartCSVCmd.Flags().Int("max-concurrent", 1, "max concurrent calls")
	campaignStartCSVCmd.Flags().Int("call-delay-ms", 5000, "delay between dials in milliseconds")
	campaignStartCSVCmd.Flags().Int("retry-count", 0, "retry attempts per contact")
	campaignStartCSVCmd.Flags().Int("retry-delay-ms", 60000, "delay before a retry in milliseconds")

	campaignStatusCmd := &cobra.Command{Use: "status [id]", Short: "Show a campaign's progress", Args: cobra.ExactArgs(1), Run: runCampaignStatus}
	campaignPauseCmd := &cobra.Command{Use: "pause [id]", Short: "Pause a campaign", Args: cobra.ExactArgs(1), Run: runCampaignPause}
	campaignResumeCmd := &cobra.Command{Use: "resume [id]", Short: "Resume a paused campaign", Args: cobra.ExactArgs(1), Run: runCampaignResume}
	campaignStopCmd := &cobra.Command{Use: "stop [id]", Short: "Stop a campaign and hang up its in-flight calls", Args: cobra.ExactArgs(1), Run: runCampaignStop}

	campaignCmd.AddCommand(campaignListCmd, campaignCreateCmd, campaignStartCSVCmd,
		campaignStatusCmd, campaignPauseCmd, campaignResumeCmd, campaignStopCmd)

	// === AD-HOC CALL ===
	callCmd := &cobra.Command{Use: "call", Short: "Place a single ad-hoc outbound call", Run: runCall}
	callCmd.Flags().String("to", "", "number to dial (required)")
	callCmd.Flags().String("prompt", "", "agent system prompt (required)")
	callCmd.Flags().String("first-message", "", "agent's opening line")
	callCmd.Flags().String("caller-id", "", "outbound caller ID")

	rootCmd.AddCommand(campaignCmd, callCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// --- campaigns ---

func runCampaignList(cmd *cobra.Command, args []string) {
	resp, err := http.Get(apiHost + "/api/db/campaigns/active")
	if err != nil {
		fmt.Printf("connecting to API: %v\n", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("API error: %s\n", resp.Status)
		return
	}

	var body struct {
		Data []map[string]interface{} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&body)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCALLER ID")
	fmt.Fprintln(w, "--\t----\t------\t---------")
	for _, c := range body.Data {
		fmt.Fprintf(w, "%.0f\t%s\t%s\t%s\n", c["id"], c["name"], c["status"], c["callerId"])
	}
	w.Flush()
}

func runCampaignCreate(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	prompt, _ := cmd.Flags().GetString("prompt")
	if name == "" || prompt == "" {
		fmt.Println("Error: --name and --prompt are required")
		return
	}

	body := map[string]interface{}{
		"name":         name,
		"prompt":       prompt,
		"firstMessage": getString(cmd, "first-message"),
		"callerId":     getString(cmd, "caller-id"),
		"region":       getString(cmd, "region"),
		"settings": map[string]interface{}{
			"maxConcurrentCalls": getInt(cmd, "max-concurrent"),
			"callDelayMillis":    getInt(cmd, "call-delay-ms"),
			"retryCount":         getInt(cmd, "retry-count"),
			"retryDelayMillis":   getInt(cmd, "retry-delay-ms"),
		},
	}
	sendPost(apiHost+"/api/db/campaigns", body)
}

func runCampaignStartFromCSV(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	prompt, _ := cmd.Flags().GetString("prompt")
	if name == "" || prompt == "" {
		fmt.Println("Error: --name and --prompt are required")
		return
	}

	f, err := os.Open(args[0])
	if err != nil {
		fmt.Printf("opening CSV file: %v\n", err)
		return
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("name", name)
	mw.WriteField("prompt", prompt)
	mw.WriteField("firstMessage", getString(cmd, "first-message"))
	mw.WriteField("callerId", getString(cmd, "caller-id"))
	mw.WriteField("maxConcurrentCalls", fmt.Sprintf("%d", getInt(cmd, "max-concurrent")))
	mw.WriteField("callDelayMillis", fmt.Sprintf("%d", getInt(cmd, "call-delay-ms")))
	mw.WriteField("retryCount", fmt.Sprintf("%d", getInt(cmd, "retry-count")))
	mw.WriteField("retryDelayMillis", fmt.Sprintf("%d", getInt(cmd, "retry-delay-ms")))
	part, err := mw.CreateFormFile("file", args[0])
	if err != nil {
		fmt.Printf("building upload: %v\n", err)
		return
	}
	if _, err := io.Copy(part, f); err != nil {
		fmt.Printf("reading CSV file: %v\n", err)
		return
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, apiHost+"/api/db/campaigns/start-from-csv", &buf)
	if err != nil {
		fmt.Printf("building request: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("connection error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n%s\n", resp.Status, out)
}

func runCampaignStatus(cmd *cobra.Command, args []string) {
	resp, err := http.Get(fmt.Sprintf("%s/api/db/campaigns/%s/progress", apiHost, args[0]))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println(string(out))
}

func runCampaignPause(cmd *cobra.Command, args []string) {
	sendPost(fmt.Sprintf("%s/api/db/campaigns/%s/pause", apiHost, args[0]), nil)
}

func runCampaignResume(cmd *cobra.Command, args []string) {
	sendPost(fmt.Sprintf("%s/api/db/campaigns/%s/resume", apiHost, args[0]), nil)
}

func runCampaignStop(cmd *cobra.Command, args []string) {
	sendPost(fmt.Sprintf("%s/api/db/campaigns/%s/stop", apiHost, args[0]), nil)
}

// --- ad-hoc call ---

func runCall(cmd *cobra.Command, args []string) {
	to, _ := cmd.Flags().GetString("to")
	prompt, _ := cmd.Flags().GetString("prompt")
	if to == "" || prompt == "" {
		fmt.Println("Error: --to and --prompt are required")
		return
	}

	body := map[string]interface{}{
		"to":           to,
		"prompt":       prompt,
		"firstMessage": getString(cmd, "first-message"),
		"callerId":     getString(cmd, "caller-id"),
	}

	start := time.Now()
	sendPost(apiHost+"/outbound-call", body)
	fmt.Printf("elapsed: %v\n", time.Since(start))
}

// --- helpers ---

func getString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
func getInt(cmd *cobra.Command, name string) int {
	v, _ := cmd.Flags().GetInt(name)
	return v
}

func sendPost(url string, data interface{}) {
	var payload []byte
	if data != nil {
		payload, _ = json.Marshal(data)
	}
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		fmt.Printf("connection error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		fmt.Println("OK")
		fmt.Println(string(body))
	} else {
		fmt.Printf("error (%s): %s\n", resp.Status, string(body))
	}
}
