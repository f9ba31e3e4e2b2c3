package generate

import "fmt"

// masterPrompt is the study-guide generation prompt. The three-section
// structure (summary, key terms, practice quiz) is what the frontend
// renders, so the markdown headings must stay stable.
const masterPrompt = `You are an expert university-level tutor preparing a comprehensive study guide for a student ahead of a difficult exam.

Your task is to analyze the provided source text deeply and generate a high-quality study aid.
The output MUST be in simple, clean Markdown format, strictly following the structure below.

Here is the source text to analyze:
---
%s
---

Directives for generation:

## 1. 📝 Quick Summary
Generate a concise, 3-to-5-bullet-point summary.
* **Constraint:** Do not just list topics. Synthesize the information to capture the core argument, main ideas, and crucial nuance of the text.
* Assume the student has read the text and needs a high-level refresher of the "big picture."

## 2. 🔑 Key Terms
Identify 5-7 of the most critical technical terms, concepts, or keywords from the text.
* **Format:** A bulleted list with the term in **bold**, followed by a definition.
* **Constraint 1 (CRITICAL):** Do NOT provide circular definitions (e.g., do not define "Computer Networking" as "The networking of computers").
* **Constraint 2:** The definition must explain the term's function, significance, or context *as it is used in the provided text*.

## 3. 🧠 Practice Quiz
Create a 3-question multiple-choice quiz based *only* on the provided text.
* **Format:** Provide the question, followed by 4 options labelled A, B, C, D. After the final question, provide an "Answer Key" section.
* **Constraint 1 (Difficulty):** Do not ask simple recall questions. Ask questions that test understanding, application, or analysis of the concepts.
* **Constraint 2 (Distractors):** The wrong answer options (distractors) MUST be plausible to someone who only skimmed the text. Do not use obviously silly or fake answers.
`

// BuildPrompt wraps the source text in the study-guide master prompt
func BuildPrompt(sourceText string) string {
	return fmt.Sprintf(masterPrompt, sourceText)
}
