package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/models"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/auth"
	"github.com/nguyentranbao-ct/consult-live/pkg/tmplx"
	"github.com/nguyentranbao-ct/consult-live/pkg/util"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

type Client interface {
	DirectHistory(ctx context.Context, selfID, peerID string) ([]models.ChatPayload, error)
	ForumHistory(ctx context.Context, courseID string) ([]models.ChatPayload, error)
	Contacts(ctx context.Context, role models.Role) ([]models.Contact, error)
	Courses(ctx context.Context) ([]models.Course, error)
	JoinSession(ctx context.Context, sessionID string) (*models.Credentials, error)
	ReportAttendance(ctx context.Context, report models.AttendanceReport) error
	AttendanceURL(sessionID string) (string, error)
}

type routes struct {
	directHistory *tmplx.Template
	forumHistory  *tmplx.Template
	contacts      *tmplx.Template
	courses       *tmplx.Template
	joinSession   *tmplx.Template
	attendance    *tmplx.Template
}

type client struct {
	http     *resty.Client
	session  auth.Session
	routes   routes
	baseURL  string
	validate *validator.Validate
	log      *zap.SugaredLogger
}

func NewClient(conf *config.Config, session auth.Session, log *zap.SugaredLogger) (Client, error) {
	r, err := parseRoutes(conf.Backend.Routes)
	if err != nil {
		return nil, err
	}
	log = log.Named("backend")
	c := &client{
		http: util.NewRestyClient(util.RestyOptions{
			BaseURL: conf.Backend.BaseURL,
			Retries: conf.Backend.Retries,
			Timeout: conf.Backend.Timeout,
			Logger:  log,
		}),
		session:  session,
		routes:   r,
		baseURL:  strings.TrimRight(conf.Backend.BaseURL, "/"),
		validate: validator.New(),
		log:      log,
	}
	c.http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if token := c.session.Token(); token != "" {
			req.SetAuthToken(token)
		}
		return nil
	})
	return c, nil
}

func parseRoutes(conf config.RoutesConfig) (routes, error) {
	var (
		r    routes
		errs []error
	)
	parse := func(name, text string, fields ...string) *tmplx.Template {
		t, err := tmplx.Parse(name, text, tmplx.WithRequiredFields(fields...))
		if err != nil {
			errs = append(errs, err)
		}
		return t
	}
	r.directHistory = parse("direct_history", conf.DirectHistory, "SelfID", "PeerID")
	r.forumHistory = parse("forum_history", conf.ForumHistory, "CourseID")
	r.contacts = parse("contacts", conf.Contacts, "Role")
	r.courses = parse("courses", conf.Courses)
	r.joinSession = parse("join_session", conf.JoinSession, "SessionID")
	r.attendance = parse("attendance", conf.Attendance, "SessionID")
	if err := errors.Join(errs...); err != nil {
		return routes{}, fmt.Errorf("parse backend routes: %w", err)
	}
	return r, nil
}

func (c *client) DirectHistory(ctx context.Context, selfID, peerID string) ([]models.ChatPayload, error) {
	path, err := c.routes.directHistory.RenderString(map[string]any{"SelfID": selfID, "PeerID": peerID})
	if err != nil {
		return nil, err
	}
	var out []models.ChatPayload
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch direct history: %w", err)
	}
	return out, nil
}

func (c *client) ForumHistory(ctx context.Context, courseID string) ([]models.ChatPayload, error) {
	path, err := c.routes.forumHistory.RenderString(map[string]any{"CourseID": courseID})
	if err != nil {
		return nil, err
	}
	var out []models.ChatPayload
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch forum history: %w", err)
	}
	return out, nil
}

func (c *client) Contacts(ctx context.Context, role models.Role) ([]models.Contact, error) {
	path, err := c.routes.contacts.RenderString(map[string]any{"Role": string(role)})
	if err != nil {
		return nil, err
	}
	var out []models.Contact
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	return out, nil
}

func (c *client) Courses(ctx context.Context) ([]models.Course, error) {
	path, err := c.routes.courses.RenderString(nil)
	if err != nil {
		return nil, err
	}
	var out []models.Course
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch courses: %w", err)
	}
	return out, nil
}

func (c *client) JoinSession(ctx context.Context, sessionID string) (*models.Credentials, error) {
	path, err := c.routes.joinSession.RenderString(map[string]any{"SessionID": sessionID})
	if err != nil {
		return nil, err
	}
	resp, err := c.http.R().SetContext(ctx).Post(path)
	if err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}
	if err := c.checkResponse(resp); err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}

	// uid may come back as a number or a string
	body := unwrap(resp.Body())
	creds := &models.Credentials{
		AppID:       body.Get("appId").String(),
		ChannelName: body.Get("channelName").String(),
		Token:       body.Get("token").String(),
		UID:         body.Get("uid").String(),
		HostUID:     body.Get("hostUid").String(),
		HostName:    body.Get("hostName").String(),
	}
	if err := c.validate.Struct(creds); err != nil {
		return nil, fmt.Errorf("invalid session credentials: %w", err)
	}
	return creds, nil
}

func (c *client) ReportAttendance(ctx context.Context, report models.AttendanceReport) error {
	path, err := c.routes.attendance.RenderString(map[string]any{"SessionID": report.SessionID})
	if err != nil {
		return err
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(report).Post(path)
	if err != nil {
		return fmt.Errorf("report attendance: %w", err)
	}
	if err := c.checkResponse(resp); err != nil {
		return fmt.Errorf("report attendance: %w", err)
	}
	return nil
}

// AttendanceURL is the absolute attendance endpoint, for deliveries that do
// not go through this client.
func (c *client) AttendanceURL(sessionID string) (string, error) {
	path, err := c.routes.attendance.RenderString(map[string]any{"SessionID": sessionID})
	if err != nil {
		return "", err
	}
	return c.baseURL + path, nil
}

func (c *client) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return err
	}
	if err := c.checkResponse(resp); err != nil {
		return err
	}
	body := unwrap(resp.Body())
	if !body.Exists() || body.Type == gjson.Null {
		return nil
	}
	if err := json.Unmarshal([]byte(body.Raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *client) checkResponse(resp *resty.Response) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized:
		c.log.Warnw("backend rejected token", "url", resp.Request.URL)
		c.session.Logout()
		return models.ErrUnauthenticated
	case code == http.StatusNotFound:
		return models.ErrNotFound
	case code >= 400:
		msg := gjson.GetBytes(resp.Body(), "message").String()
		if msg == "" {
			msg = http.StatusText(code)
		}
		return fmt.Errorf("backend returned status %d: %s", code, msg)
	}
	return nil
}

// unwrap returns the payload of a response, accepting both bare bodies and
// the {"data": ...} envelope.
func unwrap(body []byte) gjson.Result {
	if data := gjson.GetBytes(body, "data"); data.Exists() {
		return data
	}
	return gjson.ParseBytes(body)
}
