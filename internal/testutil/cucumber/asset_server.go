package cucumber

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/cucumber/godog"
	"github.com/rhplus0831/risugit/internal/security"
)

func registerAssetServerSteps(ctx *godog.ScenarioContext, s *Scenario) {
	ctx.Step(`^requests carry the client flag header$`, s.requestsCarryTheFlag)
	ctx.Step(`^I (GET|HEAD) path "([^"]*)"$`, s.request)
	ctx.Step(`^I upload "([^"]*)" as "([^"]*)"$`, s.upload)
	ctx.Step(`^I store "(.*)" as \${([^}]*)}$`, s.store)

	ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
	ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
	ctx.Step(`^the response body should be "(.*)"$`, s.theResponseBodyShouldBe)
	ctx.Step(`^the response body should match its asset name "([^"]*)"$`, s.theResponseBodyShouldMatchName)
	ctx.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, s.theResponseHeaderShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "(.*)"$`, s.theResponseFieldShouldBe)
	ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		s.Client.CloseIdleConnections()
		return ctx, err
	})
}

func (s *Scenario) requestsCarryTheFlag() error {
	s.flagged = true
	return nil
}

func (s *Scenario) store(text, name string) error {
	v, err := s.Expand(text)
	if err != nil {
		return err
	}
	s.Variables[name] = v
	return nil
}

func (s *Scenario) request(method, p string) error {
	return s.Do(method, p, nil, "")
}

// upload PUTs content as the multipart "file" field, the way the sync client
// sends assets.
func (s *Scenario) upload(content, p string) error {
	expanded, err := s.Expand(content)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "asset")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(part, expanded); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return s.Do(http.MethodPut, p, &body, mw.FormDataContentType())
}

// Do sends a request to the asset server path p (expanded) and records the
// response.
func (s *Scenario) Do(method, p string, body io.Reader, contentType string) error {
	expanded, err := s.Expand(p)
	if err != nil {
		return err
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.Suite.APIURL+expanded, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.flagged {
		req.Header.Set(security.FlagHeader, "1")
	}

	s.resp, s.body, s.doc = nil, nil, nil
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, expanded, err)
	}
	s.resp, s.body = resp, data
	return nil
}

func (s *Scenario) response() (*http.Response, error) {
	if s.resp == nil {
		return nil, fmt.Errorf("no response yet")
	}
	return s.resp, nil
}

func (s *Scenario) theResponseCodeShouldBe(code int) error {
	resp, err := s.response()
	if err != nil {
		return err
	}
	if resp.StatusCode != code {
		return fmt.Errorf("want status %d, got %d: %s", code, resp.StatusCode, s.body)
	}
	return nil
}

func (s *Scenario) theResponseShouldContainJSON(doc *godog.DocString) error {
	if _, err := s.response(); err != nil {
		return err
	}
	return s.JSONMustContain(string(s.body), doc.Content)
}

func (s *Scenario) theResponseBodyShouldBe(expected string) error {
	if _, err := s.response(); err != nil {
		return err
	}
	return s.TextMustMatch(string(s.body), expected)
}

// theResponseBodyShouldMatchName checks the downloaded bytes against the
// content hash the asset name carries.
func (s *Scenario) theResponseBodyShouldMatchName(name string) error {
	if _, err := s.response(); err != nil {
		return err
	}
	expanded, err := s.Expand(name)
	if err != nil {
		return err
	}
	want := strings.TrimSuffix(path.Base(expanded), path.Ext(expanded))
	sum := sha256.Sum256(s.body)
	if got := hex.EncodeToString(sum[:]); got != want {
		return fmt.Errorf("body of %d bytes hashes to %s, asset name says %s", len(s.body), got, want)
	}
	return nil
}

func (s *Scenario) theResponseHeaderShouldBe(header, expected string) error {
	resp, err := s.response()
	if err != nil {
		return err
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if got := resp.Header.Get(header); got != expanded {
		return fmt.Errorf("header %s: want %q, got %q", header, expanded, got)
	}
	return nil
}

func (s *Scenario) theResponseFieldShouldBe(field, expected string) error {
	got, err := s.query(field)
	if err != nil {
		return err
	}
	return s.TextMustMatch(got, expected)
}
