package models

// Course is a read-only catalog entry. Lessons are kept sorted by Order.
type Course struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	PrerequisiteIDs []string `json:"prerequisite_ids,omitempty"`
	Lessons         []Lesson `json:"lessons"`
}

// Lesson is one step of a course. Lessons without a quiz pass on completion.
type Lesson struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
	Order    int    `json:"order"`
	XPReward int64  `json:"xp_reward"`
	HasQuiz  bool   `json:"has_quiz"`
}

// LessonIndex returns the lesson's position in course order, or -1.
func (c *Course) LessonIndex(lessonID string) int {
	for i := range c.Lessons {
		if c.Lessons[i].ID == lessonID {
			return i
		}
	}
	return -1
}

// IsFirstLesson reports whether lessonID opens the course.
func (c *Course) IsFirstLesson(lessonID string) bool {
	return len(c.Lessons) > 0 && c.Lessons[0].ID == lessonID
}

// PreviousLesson returns the immediate predecessor of lessonID, if any.
func (c *Course) PreviousLesson(lessonID string) *Lesson {
	if i := c.LessonIndex(lessonID); i > 0 {
		return &c.Lessons[i-1]
	}
	return nil
}

// NextLesson returns the lesson after lessonID, or nil for the last one.
func (c *Course) NextLesson(lessonID string) *Lesson {
	if i := c.LessonIndex(lessonID); i >= 0 && i+1 < len(c.Lessons) {
		return &c.Lessons[i+1]
	}
	return nil
}

// LessonIDs lists lesson ids in course order.
func (c *Course) LessonIDs() []string {
	ids := make([]string, len(c.Lessons))
	for i := range c.Lessons {
		ids[i] = c.Lessons[i].ID
	}
	return ids
}
