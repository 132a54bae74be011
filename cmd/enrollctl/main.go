// Command enrollctl bulk-enrolls a directory of per-person image folders
// against a running attendance server, grounded on the register-then-upload
// pair exposed at /v1/students.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
)

var rootCmd = &cobra.Command{
	Use:   "enrollctl",
	Short: "Bulk-enroll students from a directory of per-person image folders",
}

var enrollCmd = &cobra.Command{
	Use:   "enroll <root-folder>",
	Short: "Register and upload reference images for every person subfolder",
	Long: `Enroll walks root-folder expecting one subdirectory per person, named
<external_id>[_<first>_<last>[_<group>]], each containing that person's
reference images. For every folder it registers the student (skipping
registration if already present) and uploads all images in one request.

Example:
  enrollctl enroll --server http://localhost:8080 --api-key secret ./students`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "attendance server base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the server's /v1 routes")
	rootCmd.AddCommand(enrollCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
}

type personFolder struct {
	externalID string
	firstName  string
	lastName   string
	group      string
	images     []string
}

func runEnroll(cmd *cobra.Command, args []string) error {
	root := args[0]
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read root folder: %w", err)
	}

	var folders []personFolder
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pf, err := loadPersonFolder(filepath.Join(root, e.Name()), e.Name())
		if err != nil {
			fmt.Printf("skip %s: %v\n", e.Name(), err)
			continue
		}
		if len(pf.images) == 0 {
			fmt.Printf("skip %s: no images found\n", e.Name())
			continue
		}
		folders = append(folders, pf)
	}

	if len(folders) == 0 {
		fmt.Println("No person folders with images found.")
		return nil
	}

	fmt.Printf("Found %d student folder(s) under %s\n\n", len(folders), root)

	client := &http.Client{Timeout: 60 * time.Second}
	bar := progressbar.NewOptions(len(folders),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("students"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var failures []string
	successful, skipped := 0, 0
	for _, pf := range folders {
		if err := registerStudent(client, pf); err != nil {
			failures = append(failures, fmt.Sprintf("%s: register: %v", pf.externalID, err))
			bar.Add(1)
			continue
		}

		summary, err := uploadImages(client, pf)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: upload: %v", pf.externalID, err))
			bar.Add(1)
			continue
		}
		successful += summary.Successful
		for _, n := range summary.SkipCounts {
			skipped += n
		}
		bar.Add(1)
	}
	fmt.Println()

	for _, f := range failures {
		fmt.Printf("Failed: %s\n", f)
	}

	fmt.Printf("\nDone. %d reference image(s) enrolled, %d skipped, %d folder failure(s).\n",
		successful, skipped, len(failures))
	return nil
}

// loadPersonFolder parses a folder name of the form
// <external_id>[_<first>_<last>[_<group>]] and collects its image paths.
func loadPersonFolder(dir, folderName string) (personFolder, error) {
	parts := strings.Split(folderName, "_")
	pf := personFolder{externalID: parts[0]}
	if len(parts) > 1 {
		pf.firstName = parts[1]
	}
	if len(parts) > 2 {
		pf.lastName = parts[2]
	}
	if len(parts) > 3 {
		pf.group = strings.Join(parts[3:], "_")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return pf, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			pf.images = append(pf.images, filepath.Join(dir, e.Name()))
		}
	}
	return pf, nil
}

type registerRequest struct {
	ExternalID string `json:"external_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Group      string `json:"group"`
}

// registerStudent creates pf's student record, tolerating an already-
// registered external_id (409) since re-running enroll on the same folder
// should only add reference images, not fail.
func registerStudent(client *http.Client, pf personFolder) error {
	body, err := json.Marshal(registerRequest{
		ExternalID: pf.externalID,
		FirstName:  pf.firstName,
		LastName:   pf.lastName,
		Group:      pf.group,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/v1/students/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusConflict {
		return nil
	}
	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
}

type uploadSummary struct {
	Successful int            `json:"successful"`
	SkipCounts map[string]int `json:"skip_counts"`
}

// uploadImages posts every image in pf in a single multipart request.
func uploadImages(client *http.Client, pf personFolder) (*uploadSummary, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, path := range pf.images {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		part, err := mw.CreateFormFile("images", filepath.Base(path))
		if err != nil {
			f.Close()
			return nil, err
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return nil, err
		}
		f.Close()
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/students/%s/upload-images", serverURL, pf.externalID)
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var summary uploadSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &summary, nil
}
