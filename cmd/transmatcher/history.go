/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"transmatcher/internal/session"
	"transmatcher/internal/storage"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		h, err := app.openHistory(cmd.Context())
		if err != nil {
			return err
		}
		defer h.Close()
		recs, err := h.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tSTATUS\tPEER\tFINISHED\tROWS")
		for _, r := range recs {
			rows := len(r.Input)
			if r.Status == session.Accepted.String() {
				rows = len(r.Result)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", r.ID, r.Label, r.Status, r.Peer,
				r.Finished.Local().Format(time.DateTime), rows)
		}
		return tw.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print the accepted column of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := app.openHistory(cmd.Context())
		if err != nil {
			return err
		}
		defer h.Close()
		r, err := h.Get(cmd.Context(), args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no session %q", args[0])
		}
		if err != nil {
			return err
		}
		if r.Status != session.Accepted.String() {
			return fmt.Errorf("session %s was %s, no result", r.ID, r.Status)
		}
		return writeResult(cmd.OutOrStdout(), "", r.Result)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of sessions to list")
	historyCmd.AddCommand(historyShowCmd)
}
