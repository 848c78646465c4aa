package mcpserver

const linkSyntaxURI = "vaultlens://link-syntax"

// LinkSyntax describes what the indexer recognizes in a note and how link
// targets are matched, so tool callers can interpret results.
const LinkSyntax = `# Vault Link Syntax

## Notes

- Every ` + "`" + `.md` + "`" + ` file under the vault root is a note, except paths matching the
  exclusion patterns (by default ` + "`" + `.obsidian/` + "`" + `, ` + "`" + `.git/` + "`" + `, ` + "`" + `.trash/` + "`" + `).
- Title: frontmatter ` + "`" + `title` + "`" + `, else the first heading, else the file name.
- Aliases: frontmatter ` + "`" + `aliases` + "`" + ` or ` + "`" + `alias` + "`" + ` (list or comma-separated string).
- Malformed frontmatter is treated as empty; the note is still indexed.

## Links

| Written as | Kind | Notes |
|---|---|---|
| ` + "`" + `[[target]]` + "`" + ` | wikilink | |
| ` + "`" + `[[target\|alias]]` + "`" + ` | wikilink | alias is display text |
| ` + "`" + `[[target#Heading]]` + "`" + ` | wikilink | heading_ref |
| ` + "`" + `[[target#^block]]` + "`" + ` | wikilink | block_ref |
| ` + "`" + `![[target]]` + "`" + ` | wikilink | embed |
| ` + "`" + `[text](folder/target.md)` + "`" + ` | markdown | relative to the linking note first |
| ` + "`" + `![alt](target.md)` + "`" + ` | markdown | embed |

Links inside code spans and code blocks are ignored, as are URLs with a scheme
(` + "`" + `https:` + "`" + `, ` + "`" + `mailto:` + "`" + `), same-note anchors, and attachments (images, audio, video, pdf).

## Resolution

A link target is matched against notes in this order; the first tier with a
match wins and ties go to the smallest path:

1. path, with or without ` + "`" + `.md` + "`" + `
2. path suffix, including the bare file name
3. title
4. alias

Matching ignores case unless the index is configured case-sensitive. A link
that matches nothing is broken and reported by ` + "`" + `list_broken_links` + "`" + `.

## Tags

Frontmatter ` + "`" + `tags` + "`" + ` / ` + "`" + `tag` + "`" + ` and inline ` + "`" + `#tag` + "`" + ` tokens outside code. Nested tags
(` + "`" + `#project/alpha` + "`" + `) are kept whole; purely numeric tokens (` + "`" + `#123` + "`" + `) are not tags.
`
