// Package cleanstack keeps an ordered list of release actions that are
// all executed, last pushed first, even when some of them fail.
package cleanstack

import "errors"

type CleanJob func() error

type CleanStack struct {
	jobs []CleanJob
}

func NewCleanStack() *CleanStack {
	return &CleanStack{}
}

// Push adds a job to the top of the stack.
func (s *CleanStack) Push(job CleanJob) {
	s.jobs = append(s.jobs, job)
}

// Len is the number of pending jobs.
func (s *CleanStack) Len() int {
	return len(s.jobs)
}

// Cleanup pops and runs every job. A failing job does not prevent the
// remaining ones from running. The returned error joins err with the job
// errors, in execution order.
func (s *CleanStack) Cleanup(err error) error {
	errs := []error{err}
	for len(s.jobs) > 0 {
		job := s.jobs[len(s.jobs)-1]
		s.jobs = s.jobs[:len(s.jobs)-1]
		if jobErr := job(); jobErr != nil {
			errs = append(errs, jobErr)
		}
	}
	return errors.Join(errs...)
}
