package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks <project> <version>",
	Short: "List the queued and finished tasks of a release",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := store.TasksForRelease(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(tasks)
			return nil
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}
		for _, task := range tasks {
			line := fmt.Sprintf("%6d  %-14s %-10s %s", task.ID, task.Type, task.Status, task.Added.Format("2006-01-02 15:04"))
			if task.Error != "" {
				line += "  error: " + task.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}
