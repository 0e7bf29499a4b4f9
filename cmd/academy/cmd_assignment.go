package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/academyhq/academy/internal/domain"
)

type assignmentSummary struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	TotalExercises   int    `json:"total_exercises"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	ComplexityLevel  string `json:"complexity_level"`
}

// cmdAssignment browses the curriculum
func cmdAssignment(args []string) error {
	if len(args) < 1 {
		fmt.Println(`Assignment commands:

  academy assignment list [chapter]   List chapters, or one chapter's assignments
  academy assignment find <query>     Search assignments
  academy assignment show <id>        Show an assignment (e.g. ch01-01)`)
		return nil
	}

	switch args[0] {
	case "list":
		if len(args) > 1 {
			return cmdAssignmentList(args[1])
		}
		return cmdChapterList()
	case "find":
		if len(args) < 2 {
			return fmt.Errorf("search query required")
		}
		return cmdAssignmentFind(strings.Join(args[1:], " "))
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("assignment ID required (e.g., ch01-01)")
		}
		return cmdAssignmentShow(args[1])
	default:
		return fmt.Errorf("unknown assignment command: %s", args[0])
	}
}

func cmdChapterList() error {
	var result struct {
		Chapters []struct {
			Chapter         domain.Chapter `json:"chapter"`
			AssignmentCount int            `json:"assignment_count"`
		} `json:"chapters"`
	}
	if err := call("GET", "/v1/chapters", nil, &result); err != nil {
		return err
	}

	fmt.Println("Chapters:")
	for _, c := range result.Chapters {
		fmt.Printf("  %-8s %s (%d assignments)\n", c.Chapter.Slug, c.Chapter.Title, c.AssignmentCount)
	}
	fmt.Println("\nUse 'academy assignment list <chapter>' for its assignments")
	return nil
}

func cmdAssignmentList(slug string) error {
	var result struct {
		Chapter     domain.Chapter      `json:"chapter"`
		Assignments []assignmentSummary `json:"assignments"`
	}
	if err := call("GET", "/v1/chapters/"+url.PathEscape(slug)+"/assignments", nil, &result); err != nil {
		return err
	}

	fmt.Printf("%s\n\n", result.Chapter.Title)
	printSummaries(result.Assignments)
	return nil
}

func cmdAssignmentFind(query string) error {
	var result struct {
		Results []assignmentSummary `json:"results"`
	}
	if err := call("GET", "/v1/search?q="+url.QueryEscape(query), nil, &result); err != nil {
		return err
	}
	if len(result.Results) == 0 {
		fmt.Printf("No assignments match %q\n", query)
		return nil
	}
	printSummaries(result.Results)
	return nil
}

func printSummaries(list []assignmentSummary) {
	for _, a := range list {
		fmt.Printf("  %-10s %s\n", a.ID, a.Title)
		fmt.Printf("             %d exercises | ~%d min | %s\n", a.TotalExercises, a.EstimatedMinutes, a.ComplexityLevel)
	}
}

func cmdAssignmentShow(id string) error {
	slug, number, err := splitAssignmentID(id)
	if err != nil {
		return err
	}

	var a domain.Assignment
	if err := call("GET", fmt.Sprintf("/v1/chapters/%s/assignments/%d", url.PathEscape(slug), number), nil, &a); err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", a.Title, a.ID)
	fmt.Printf("~%d min | %s | %s\n\n", a.EstimatedMinutes, a.ComplexityLevel, strings.Join(a.SkillsCovered, ", "))
	for _, g := range a.Exercises() {
		fmt.Printf("Exercise %s: %s\n", g.ExerciseID, g.Title)
		for _, b := range a.ExerciseBlocks(g.ExerciseID) {
			fmt.Printf("  %-16s %s\n", b.Type, b.ID)
		}
	}
	return nil
}

// splitAssignmentID parses ids of the form <chapter>-<number>
func splitAssignmentID(id string) (string, int, error) {
	i := strings.LastIndex(id, "-")
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("assignment ID must look like <chapter>-<number>, got %q", id)
	}
	number, err := strconv.Atoi(id[i+1:])
	if err != nil || number <= 0 {
		return "", 0, fmt.Errorf("assignment ID must end in a positive number, got %q", id)
	}
	return id[:i], number, nil
}
