package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
)

// memCourseStore mirrors the conditional updates of the Mongo course repository.
// beforeWrite runs ahead of each conditional update, outside the lock, so tests can
// interleave a competing write.
type memCourseStore struct {
	mu          sync.Mutex
	courses     map[string]*models.Course
	beforeWrite func(op string)
	writes      int
}

func newMemCourseStore(courses ...*models.Course) *memCourseStore {
	s := &memCourseStore{courses: make(map[string]*models.Course)}
	for _, c := range courses {
		s.put(c)
	}
	return s
}

func copyCourse(c *models.Course) *models.Course {
	cp := *c
	cp.Students = append(models.Roster{}, c.Students...)
	cp.PendingStudents = append([]models.ID{}, c.PendingStudents...)
	return &cp
}

func (s *memCourseStore) put(c *models.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID.Hex()] = copyCourse(c)
}

func (s *memCourseStore) get(id models.ID) *models.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.courses[id.Hex()]; ok {
		return copyCourse(c)
	}
	return nil
}

func (s *memCourseStore) hook(op string) {
	if s.beforeWrite != nil {
		s.beforeWrite(op)
	}
}

// update runs fn against the stored course under the lock and reports whether it changed.
func (s *memCourseStore) update(op string, id models.ID, fn func(c *models.Course) bool) (bool, error) {
	s.hook(op)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id.Hex()]
	if !ok {
		return false, nil
	}
	changed := fn(c)
	if changed {
		s.writes++
	}
	return changed, nil
}

func (s *memCourseStore) Create(ctx context.Context, course *models.Course) error {
	if course.Students == nil {
		course.Students = models.Roster{}
	}
	if course.PendingStudents == nil {
		course.PendingStudents = []models.ID{}
	}
	course.CreatedAt = time.Now().UTC()
	course.UpdatedAt = course.CreatedAt
	s.put(course)
	return nil
}

func (s *memCourseStore) FindByID(ctx context.Context, id models.ID) (*models.Course, error) {
	if c := s.get(id); c != nil {
		return c, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (s *memCourseStore) Update(ctx context.Context, course *models.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.courses[course.ID.Hex()]
	if !ok {
		return mongo.ErrNoDocuments
	}
	cp := copyCourse(course)
	cp.Students = stored.Students
	cp.PendingStudents = stored.PendingStudents
	s.courses[course.ID.Hex()] = cp
	return nil
}

func (s *memCourseStore) Delete(ctx context.Context, id models.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[id.Hex()]; !ok {
		return mongo.ErrNoDocuments
	}
	delete(s.courses, id.Hex())
	return nil
}

func (s *memCourseStore) all() []models.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, *copyCourse(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out
}

func (s *memCourseStore) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range s.all() {
		if filter.TeacherID != nil && !c.TeacherID.Equal(*filter.TeacherID) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(c.Title), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

func (s *memCourseStore) FindByTeacher(ctx context.Context, teacherID models.ID) ([]models.Course, error) {
	var out []models.Course
	for _, c := range s.all() {
		if c.TeacherID.Equal(teacherID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memCourseStore) FindByStudent(ctx context.Context, studentID models.ID, includePending bool) ([]models.Course, error) {
	var out []models.Course
	for _, c := range s.all() {
		switch c.StateOf(studentID) {
		case models.MembershipEnrolled:
			out = append(out, c)
		case models.MembershipPending:
			if includePending {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *memCourseStore) AddPending(ctx context.Context, courseID, studentID models.ID, policy models.CapacityPolicy) (bool, error) {
	return s.update("add_pending", courseID, func(c *models.Course) bool {
		if c.StateOf(studentID) != models.MembershipNone || !c.AcceptsRequests(policy) {
			return false
		}
		c.PendingStudents = append(c.PendingStudents, studentID)
		return true
	})
}

func (s *memCourseStore) Approve(ctx context.Context, courseID, teacherID models.ID, record models.EnrollmentRecord) (bool, error) {
	return s.update("approve", courseID, func(c *models.Course) bool {
		if !c.TeacherID.Equal(teacherID) || c.IsFull() {
			return false
		}
		if _, enrolled := c.Students.Find(record.StudentID); enrolled || !models.ContainsID(c.PendingStudents, record.StudentID) {
			return false
		}
		c.PendingStudents = without(c.PendingStudents, record.StudentID)
		c.Students = append(c.Students, record)
		return true
	})
}

func (s *memCourseStore) RemovePending(ctx context.Context, courseID, studentID, ownerID models.ID) (bool, error) {
	return s.update("remove_pending", courseID, func(c *models.Course) bool {
		if !ownerID.IsZero() && !c.TeacherID.Equal(ownerID) {
			return false
		}
		if !models.ContainsID(c.PendingStudents, studentID) {
			return false
		}
		c.PendingStudents = without(c.PendingStudents, studentID)
		return true
	})
}

func (s *memCourseStore) RemoveEnrolled(ctx context.Context, courseID, studentID models.ID) (bool, error) {
	return s.update("remove_enrolled", courseID, func(c *models.Course) bool {
		out := make(models.Roster, 0, len(c.Students))
		for _, rec := range c.Students {
			if !rec.StudentID.Equal(studentID) {
				out = append(out, rec)
			}
		}
		changed := len(out) != len(c.Students)
		c.Students = out
		return changed
	})
}

func (s *memCourseStore) ForceEnroll(ctx context.Context, courseID models.ID, record models.EnrollmentRecord) (bool, error) {
	return s.update("force_enroll", courseID, func(c *models.Course) bool {
		if _, enrolled := c.Students.Find(record.StudentID); enrolled {
			return false
		}
		c.PendingStudents = without(c.PendingStudents, record.StudentID)
		c.Students = append(c.Students, record)
		return true
	})
}

func without(ids []models.ID, id models.ID) []models.ID {
	out := make([]models.ID, 0, len(ids))
	for _, candidate := range ids {
		if !candidate.Equal(id) {
			out = append(out, candidate)
		}
	}
	return out
}

// memUserStore backs the user-facing repositories.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUserStore(users ...*models.User) *memUserStore {
	s := &memUserStore{users: make(map[string]*models.User)}
	for _, u := range users {
		cp := *u
		s.users[u.ID.Hex()] = &cp
	}
	return s
}

func (s *memUserStore) FindByID(ctx context.Context, id models.ID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id.Hex()]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (s *memUserStore) FindByIDs(ctx context.Context, ids []models.ID) (map[string]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id.Hex()]; ok {
			out[id.Hex()] = *u
		}
	}
	return out, nil
}

func (s *memUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (s *memUserStore) Create(ctx context.Context, user *models.User) error {
	if _, err := s.FindByEmail(ctx, user.Email); err == nil {
		return mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "duplicate key"}}}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.users[user.ID.Hex()] = &cp
	return nil
}

func (s *memUserStore) Update(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID.Hex()]; !ok {
		return mongo.ErrNoDocuments
	}
	cp := *user
	s.users[user.ID.Hex()] = &cp
	return nil
}

func (s *memUserStore) UpdateLastLogin(ctx context.Context, id models.ID, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id.Hex()]; ok {
		u.LastLogin = &ts
	}
	return nil
}

func (s *memUserStore) UpdatePassword(ctx context.Context, id models.ID, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id.Hex()]
	if !ok {
		return mongo.ErrNoDocuments
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	return nil
}

func (s *memUserStore) Delete(ctx context.Context, id models.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id.Hex()]; !ok {
		return mongo.ErrNoDocuments
	}
	delete(s.users, id.Hex())
	return nil
}

func (s *memUserStore) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, len(out), nil
}

// memCache is an in-process CacheRepository.
type memCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
	deleted []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]interface{})}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	if out, ok := dest.(*[]models.StudentCourse); ok {
		*out = v.([]models.StudentCourse)
	}
	return nil
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func (c *memCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			c.deleted = append(c.deleted, k)
		}
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// fixture ids and users.
var (
	adminUser    = &models.User{ID: models.MustParseID("650000000000000000000001"), Name: "Ada Admin", Email: "admin@example.com", Role: models.RoleAdmin, Active: true}
	teacherUser  = &models.User{ID: models.MustParseID("650000000000000000000002"), Name: "Tess Teacher", Email: "teacher@example.com", Role: models.RoleTeacher, Active: true}
	otherTeacher = &models.User{ID: models.MustParseID("650000000000000000000003"), Name: "Theo Teacher", Email: "theo@example.com", Role: models.RoleTeacher, Active: true}
	studentA     = &models.User{ID: models.MustParseID("650000000000000000000004"), Name: "Sam A", Email: "a@example.com", Role: models.RoleStudent, Active: true}
	studentB     = &models.User{ID: models.MustParseID("650000000000000000000005"), Name: "Sam B", Email: "b@example.com", Role: models.RoleStudent, Active: true}
	studentC     = &models.User{ID: models.MustParseID("650000000000000000000006"), Name: "Sam C", Email: "c@example.com", Role: models.RoleStudent, Active: true}
)

func actorOf(u *models.User) models.Actor {
	return models.Actor{ID: u.ID, Role: u.Role}
}

func newFixtureUsers() *memUserStore {
	return newMemUserStore(adminUser, teacherUser, otherTeacher, studentA, studentB, studentC)
}

func newCourse(maxStudents int) *models.Course {
	return &models.Course{
		ID:              models.NewID(),
		Title:           "Algebra I",
		Slug:            "algebra-i",
		TeacherID:       teacherUser.ID,
		MaxStudents:     maxStudents,
		Students:        models.Roster{},
		PendingStudents: []models.ID{},
		CreatedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
