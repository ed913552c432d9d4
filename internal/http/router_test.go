package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/dkoval/todolist/internal/domain"
	"github.com/dkoval/todolist/internal/repository"
	"github.com/dkoval/todolist/internal/service/auth"
	"github.com/dkoval/todolist/internal/service/task"
	"github.com/dkoval/todolist/internal/session"
	"github.com/dkoval/todolist/pkg/config"
)

const testCookieName = "todolist_session"

type userRepoStub struct {
	byID   map[string]domain.User
	byName map[string]domain.User
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{byID: make(map[string]domain.User), byName: make(map[string]domain.User)}
}

func (s *userRepoStub) CreateUser(ctx context.Context, user *domain.User) error {
	if _, ok := s.byName[user.Username]; ok {
		return repository.ErrConflict
	}
	s.byID[user.ID] = *user
	s.byName[user.Username] = *user
	return nil
}

func (s *userRepoStub) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if user, ok := s.byName[username]; ok {
		return &user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *userRepoStub) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if user, ok := s.byID[id]; ok {
		return &user, nil
	}
	return nil, repository.ErrNotFound
}

type taskRepoStub struct {
	tasks map[string]domain.Task
}

func newTaskRepoStub() *taskRepoStub {
	return &taskRepoStub{tasks: make(map[string]domain.Task)}
}

func (s *taskRepoStub) CreateTask(ctx context.Context, t *domain.Task) error {
	s.tasks[t.ID] = *t
	return nil
}

func (s *taskRepoStub) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	t, ok := s.tasks[taskID]
	if !ok || t.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s *taskRepoStub) ListOpenTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return s.list(ownerID, false), nil
}

func (s *taskRepoStub) ListCompletedTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	return s.list(ownerID, true), nil
}

func (s *taskRepoStub) UpdateTask(ctx context.Context, ownerID, taskID, title, memo string) error {
	t, ok := s.tasks[taskID]
	if !ok || t.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	t.Title = title
	t.Memo = memo
	s.tasks[taskID] = t
	return nil
}

func (s *taskRepoStub) CompleteTask(ctx context.Context, ownerID, taskID string, completedAt time.Time) error {
	t, ok := s.tasks[taskID]
	if !ok || t.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	if t.Completed == nil {
		t.Completed = &completedAt
		s.tasks[taskID] = t
	}
	return nil
}

func (s *taskRepoStub) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	t, ok := s.tasks[taskID]
	if !ok || t.OwnerID != ownerID {
		return repository.ErrNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

func (s *taskRepoStub) list(ownerID string, completed bool) []domain.Task {
	out := make([]domain.Task, 0)
	for _, t := range s.tasks {
		if t.OwnerID != ownerID || t.Done() != completed {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func newTestRouter(t *testing.T) (*Router, *userRepoStub, *taskRepoStub) {
	t.Helper()
	users := newUserRepoStub()
	tasks := newTaskRepoStub()
	sessions := session.NewMemoryStore()
	t.Cleanup(sessions.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.AppConfig{
		SessionCookieName: testCookieName,
		SessionTTL:        time.Hour,
		RateLimitSignup:   100,
		RateLimitLogin:    100,
		RateLimitWindow:   time.Minute,
	}

	router, err := NewRouter(log, auth.New(users, sessions, log, cfg), task.New(tasks, log), nil, cfg, nil)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	t.Cleanup(router.Close)
	return router, users, tasks
}

func postForm(router *Router, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func get(router *Router, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == testCookieName && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func signupUser(t *testing.T, router *Router, username string) *http.Cookie {
	t.Helper()
	rr := postForm(router, "/signup", url.Values{
		"username":  {username},
		"password1": {"my_password"},
		"password2": {"my_password"},
	}, nil)
	if rr.Code != http.StatusFound {
		t.Fatalf("signup for %s: expected 302, got %d", username, rr.Code)
	}
	return sessionCookie(t, rr)
}

func createTask(t *testing.T, router *Router, cookie *http.Cookie, title, memo string) {
	t.Helper()
	rr := postForm(router, "/tasks/new", url.Values{"title": {title}, "memo": {memo}}, cookie)
	if rr.Code != http.StatusFound {
		t.Fatalf("create task %q: expected 302, got %d", title, rr.Code)
	}
}

func singleTaskID(t *testing.T, tasks *taskRepoStub) string {
	t.Helper()
	if len(tasks.tasks) != 1 {
		t.Fatalf("expected exactly one task, have %d", len(tasks.tasks))
	}
	for id := range tasks.tasks {
		return id
	}
	return ""
}

func TestSignupRateLimitExceeded(t *testing.T) {
	users := newUserRepoStub()
	tasks := newTaskRepoStub()
	sessions := session.NewMemoryStore()
	t.Cleanup(sessions.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.AppConfig{
		SessionCookieName: testCookieName,
		SessionTTL:        time.Hour,
		RateLimitSignup:   1,
		RateLimitLogin:    1,
		RateLimitWindow:   time.Minute,
	}
	router, err := NewRouter(log, auth.New(users, sessions, log, cfg), task.New(tasks, log), nil, cfg, nil)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	t.Cleanup(router.Close)

	form := url.Values{
		"username":  {"hello_user"},
		"password1": {"my_password"},
		"password2": {"my_password"},
	}
	first := postForm(router, "/signup", form, nil)
	if first.Code != http.StatusFound {
		t.Fatalf("first signup: expected 302, got %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("expected X-RateLimit-Limit header, got %q", first.Header().Get("X-RateLimit-Limit"))
	}

	form.Set("username", "second_user")
	second := postForm(router, "/signup", form, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second signup: expected 429, got %d", second.Code)
	}
	if second.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected zero remaining, got %q", second.Header().Get("X-RateLimit-Remaining"))
	}
	if second.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("expected X-RateLimit-Reset header")
	}
	if _, ok := users.byName["second_user"]; ok {
		t.Fatal("rate-limited signup must not create a user")
	}
}

func TestSignupCreatesUserAndRedirects(t *testing.T) {
	router, users, _ := newTestRouter(t)

	rr := postForm(router, "/signup", url.Values{
		"username":  {"hello_user"},
		"password1": {"my_password"},
		"password2": {"my_password"},
	}, nil)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/tasks" {
		t.Fatalf("unexpected redirect target: %q", loc)
	}
	if _, ok := users.byName["hello_user"]; !ok {
		t.Fatal("user was not created")
	}
	sessionCookie(t, rr)
}

func TestSignupPasswordMismatchRerendersForm(t *testing.T) {
	router, users, _ := newTestRouter(t)

	rr := postForm(router, "/signup", url.Values{
		"username":  {"hello_user"},
		"password1": {"my_password"},
		"password2": {"different"},
	}, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected form re-render with 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "passwords do not match") {
		t.Fatal("expected mismatch error in the form")
	}
	if len(users.byName) != 0 {
		t.Fatal("no user should have been created")
	}
}

func TestLoginRedirectsToNext(t *testing.T) {
	router, _, _ := newTestRouter(t)
	signupUser(t, router, "hello_user")

	rr := postForm(router, "/login", url.Values{
		"username": {"hello_user"},
		"password": {"my_password"},
		"next":     {"/tasks/new"},
	}, nil)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/tasks/new" {
		t.Fatalf("expected redirect to next, got %q", loc)
	}
}

func TestLoginRejectsOffsiteNext(t *testing.T) {
	router, _, _ := newTestRouter(t)
	signupUser(t, router, "hello_user")

	for _, next := range []string{"https://evil.example", "//evil.example", `/\evil.example`, "evil"} {
		rr := postForm(router, "/login", url.Values{
			"username": {"hello_user"},
			"password": {"my_password"},
			"next":     {next},
		}, nil)
		if loc := rr.Header().Get("Location"); loc != "/tasks" {
			t.Fatalf("next %q: expected fallback to /tasks, got %q", next, loc)
		}
	}
}

func TestLoginBadCredentialsRerendersForm(t *testing.T) {
	router, _, _ := newTestRouter(t)
	signupUser(t, router, "hello_user")

	rr := postForm(router, "/login", url.Values{
		"username": {"hello_user"},
		"password": {"wrong"},
	}, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected form re-render with 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "did not match") {
		t.Fatal("expected credentials error in the form")
	}
}

func TestAnonymousRedirectsToLoginWithNext(t *testing.T) {
	router, _, _ := newTestRouter(t)

	protected := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/tasks"},
		{http.MethodGet, "/tasks/completed"},
		{http.MethodGet, "/tasks/new"},
		{http.MethodGet, "/tasks/11111111-1111-1111-1111-111111111111"},
		{http.MethodPost, "/tasks/11111111-1111-1111-1111-111111111111/complete"},
		{http.MethodPost, "/tasks/11111111-1111-1111-1111-111111111111/delete"},
		{http.MethodPost, "/logout"},
	}
	for _, route := range protected {
		req := httptest.NewRequest(route.method, route.path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusFound {
			t.Fatalf("%s %s: expected 302, got %d", route.method, route.path, rr.Code)
		}
		loc, err := url.Parse(rr.Header().Get("Location"))
		if err != nil {
			t.Fatalf("%s: invalid redirect target: %v", route.path, err)
		}
		if loc.Path != "/login" {
			t.Fatalf("%s: expected redirect to /login, got %q", route.path, loc.Path)
		}
		if next := loc.Query().Get("next"); next != route.path {
			t.Fatalf("%s: expected next=%q, got %q", route.path, route.path, next)
		}
	}
}

func TestLoginReturnsToRequestedPage(t *testing.T) {
	router, _, _ := newTestRouter(t)
	signupUser(t, router, "hello_user")

	rr := get(router, "/tasks/completed", nil)
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect target: %v", err)
	}
	next := loc.Query().Get("next")

	login := postForm(router, "/login", url.Values{
		"username": {"hello_user"},
		"password": {"my_password"},
		"next":     {next},
	}, nil)
	if got := login.Header().Get("Location"); got != "/tasks/completed" {
		t.Fatalf("expected return to /tasks/completed, got %q", got)
	}
}

func TestCreateTaskAppearsInOwnListOnly(t *testing.T) {
	router, _, _ := newTestRouter(t)
	bob := signupUser(t, router, "bob")
	alice := signupUser(t, router, "alice")

	createTask(t, router, bob, "Buy milk", "From supermarket")

	rr := get(router, "/tasks", bob)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, "Buy milk") || !strings.Contains(body, "From supermarket") {
		t.Fatal("expected created task in bob's open list")
	}

	other := get(router, "/tasks", alice)
	if other.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", other.Code)
	}
	if strings.Contains(other.Body.String(), "Buy milk") {
		t.Fatal("task leaked into another user's list")
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	router, _, tasks := newTestRouter(t)
	bob := signupUser(t, router, "bob")

	rr := postForm(router, "/tasks/new", url.Values{"title": {"  "}, "memo": {"memo"}}, bob)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected form re-render with 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "title is required") {
		t.Fatal("expected title error in the form")
	}
	if len(tasks.tasks) != 0 {
		t.Fatal("no task should have been created")
	}
}

func TestForeignTaskReturns404(t *testing.T) {
	router, _, tasks := newTestRouter(t)
	owner := signupUser(t, router, "owner")
	other := signupUser(t, router, "other")

	createTask(t, router, owner, "Secret task", "top secret")
	taskID := singleTaskID(t, tasks)

	if rr := get(router, "/tasks/"+taskID, other); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign view: expected 404, got %d", rr.Code)
	}
	if rr := postForm(router, "/tasks/"+taskID+"/complete", nil, other); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign complete: expected 404, got %d", rr.Code)
	}
	if rr := postForm(router, "/tasks/"+taskID+"/delete", nil, other); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign delete: expected 404, got %d", rr.Code)
	}
	if _, ok := tasks.tasks[taskID]; !ok {
		t.Fatal("foreign requests must not mutate the task")
	}
	if rr := get(router, "/tasks/"+taskID, owner); rr.Code != http.StatusOK {
		t.Fatalf("owner view: expected 200, got %d", rr.Code)
	}
}

func TestCompleteMovesTaskBetweenLists(t *testing.T) {
	router, _, tasks := newTestRouter(t)
	bob := signupUser(t, router, "bob")

	createTask(t, router, bob, "To finish", "...")
	taskID := singleTaskID(t, tasks)

	rr := postForm(router, "/tasks/"+taskID+"/complete", nil, bob)
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/tasks/completed" {
		t.Fatalf("unexpected redirect target: %q", loc)
	}

	stored := tasks.tasks[taskID]
	if stored.Completed == nil {
		t.Fatal("completion timestamp not set")
	}
	if stored.Title != "To finish" || stored.Memo != "..." {
		t.Fatalf("completion changed title or memo: %+v", stored)
	}

	if open := get(router, "/tasks", bob); strings.Contains(open.Body.String(), "To finish") {
		t.Fatal("completed task still in open list")
	}
	done := get(router, "/tasks/completed", bob)
	if done.Code != http.StatusOK || !strings.Contains(done.Body.String(), "To finish") {
		t.Fatal("completed task missing from completed list")
	}

	first := *stored.Completed
	if again := postForm(router, "/tasks/"+taskID+"/complete", nil, bob); again.Code != http.StatusFound {
		t.Fatalf("re-complete: expected 302, got %d", again.Code)
	}
	if got := tasks.tasks[taskID].Completed; got == nil || !got.Equal(first) {
		t.Fatal("re-completion changed the timestamp")
	}
}

func TestEditTask(t *testing.T) {
	router, _, tasks := newTestRouter(t)
	bob := signupUser(t, router, "bob")

	createTask(t, router, bob, "Old title", "Old memo")
	taskID := singleTaskID(t, tasks)

	view := get(router, "/tasks/"+taskID, bob)
	if view.Code != http.StatusOK || !strings.Contains(view.Body.String(), "Old title") {
		t.Fatal("expected edit form with current title")
	}

	rr := postForm(router, "/tasks/"+taskID, url.Values{
		"title": {"New title"},
		"memo":  {"New memo"},
	}, bob)
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}

	stored := tasks.tasks[taskID]
	if stored.Title != "New title" || stored.Memo != "New memo" {
		t.Fatalf("edit did not apply: %+v", stored)
	}
	if stored.Completed != nil {
		t.Fatal("edit must not change completion state")
	}
}

func TestEditTaskMalformedBodyRerendersForm(t *testing.T) {
	router, _, tasks := newTestRouter(t)
	bob := signupUser(t, router, "bob")

	createTask(t, router, bob, "Old title", "Old memo")
	taskID := singleTaskID(t, tasks)

	req := httptest.NewRequest(http.MethodPost, "/tasks/"+taskID, strings.NewReader("title=%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(bob)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected form re-render with 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid form submission") {
		t.Fatal("expected form error in the response")
	}
	if stored := tasks.tasks[taskID]; stored.Title != "Old title" || stored.Memo != "Old memo" {
		t.Fatalf("malformed submission must not change the task: %+v", stored)
	}
}

func TestDeleteTask(t *testing.T) {
	router, _, tasks := newTestRouter(t)
	bob := signupUser(t, router, "bob")

	createTask(t, router, bob, "To delete", "CR7")
	taskID := singleTaskID(t, tasks)

	rr := postForm(router, "/tasks/"+taskID+"/delete", nil, bob)
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if len(tasks.tasks) != 0 {
		t.Fatal("task still present after delete")
	}
	if again := get(router, "/tasks/"+taskID, bob); again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", again.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	router, _, _ := newTestRouter(t)
	bob := signupUser(t, router, "bob")

	rr := postForm(router, "/logout", nil, bob)
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Fatalf("unexpected redirect target: %q", loc)
	}

	after := get(router, "/tasks", bob)
	if after.Code != http.StatusFound {
		t.Fatalf("expected redirect to login after logout, got %d", after.Code)
	}
}

func TestHomeRedirectsAuthenticatedUser(t *testing.T) {
	router, _, _ := newTestRouter(t)
	bob := signupUser(t, router, "bob")

	rr := get(router, "/", bob)
	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/tasks" {
		t.Fatalf("expected redirect to /tasks, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	anon := get(router, "/", nil)
	if anon.Code != http.StatusOK {
		t.Fatalf("expected home page for anonymous visitor, got %d", anon.Code)
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := get(router, "/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":                  "/tasks",
		"/tasks/completed":  "/tasks/completed",
		"//evil.example":    "/tasks",
		`/\evil.example`:    "/tasks",
		`/\/evil.example`:   "/tasks",
		`/tasks\..`:         "/tasks",
		"https://evil.com":  "/tasks",
		"/x?y=1":            "/x?y=1",
		"relative/path":     "/tasks",
		" /tasks/completed": "/tasks/completed",
	}
	for input, want := range cases {
		if got := safeNext(input); got != want {
			t.Fatalf("safeNext(%q) = %q, want %q", input, got, want)
		}
	}
}
